// Package testutil provides an in-memory mock CRM server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCRM is an httptest server that behaves like the CRM REST API for a
// set of seeded modules:
//
//	GET  /{module}?ids=a,b          lookup
//	GET  /{module}?page=&per_page=  listing (ETag / If-None-Match aware)
//	GET  /{module}/search?criteria= search on (field:equals:value) groups
//	PUT  /{module}                  update with per-record statuses
type MockCRM struct {
	server *httptest.Server

	mu        sync.RWMutex
	modules   map[string]*mockModule
	handlers  map[string]http.HandlerFunc
	remaining int

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	paths             map[string]int
}

type mockModule struct {
	records []api.Record
	version int
}

var equalsGroup = regexp.MustCompile(`(?i)\(([^:()]+):equals:([^()]+)\)`)

// NewMockCRM starts a mock CRM server.
func NewMockCRM() *MockCRM {
	m := &MockCRM{
		modules:   make(map[string]*mockModule),
		handlers:  make(map[string]http.HandlerFunc),
		paths:     make(map[string]int),
		remaining: 5000,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the server's base URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.paths = make(map[string]int)
}

// Seed adds records to module. Records are kept in insertion order.
func (m *MockCRM) Seed(module string, records ...api.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.module(module)
	mod.records = append(mod.records, records...)
	mod.version++
}

// SeedN adds n records with ids prefix-0000.. to module.
func (m *MockCRM) SeedN(module, prefix string, n int) {
	records := make([]api.Record, n)
	for i := range records {
		records[i] = api.Record{
			"id":        fmt.Sprintf("%s-%04d", prefix, i),
			"Email":     fmt.Sprintf("%s%d@example.com", prefix, i),
			"Last_Name": fmt.Sprintf("Name %d", i),
		}
	}
	m.Seed(module, records...)
}

// Record returns a copy of the record with id, if present.
func (m *MockCRM) Record(module, id string) (api.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[module]
	if !ok {
		return nil, false
	}
	for _, rec := range mod.records {
		if rec.ID() == id {
			out := make(api.Record, len(rec))
			for k, v := range rec {
				out[k] = v
			}
			return out, true
		}
	}
	return nil, false
}

// SetRemaining sets the credits reported in X-RateLimit-Remaining.
func (m *MockCRM) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// SetHandler overrides the handler for an exact path.
func (m *MockCRM) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for an exact path.
func (m *MockCRM) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests served.
func (m *MockCRM) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests served.
func (m *MockCRM) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetPathCount returns the number of requests served for "METHOD /path".
func (m *MockCRM) GetPathCount(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths[method+" "+path]
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockCRM) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

func (m *MockCRM) module(name string) *mockModule {
	mod, ok := m.modules[name]
	if !ok {
		mod = &mockModule{}
		m.modules[name] = mod
	}
	return mod
}

func (m *MockCRM) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.ConditionalCount++
	}
	m.paths[r.Method+" "+r.URL.Path]++
	handler, custom := m.handlers[r.URL.Path]
	remaining := m.remaining
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if custom {
		handler(w, r)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && r.URL.Query().Get("ids") != "":
		m.lookup(w, r, parts[0])
	case r.Method == http.MethodGet && len(parts) == 1:
		m.list(w, r, parts[0])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "search":
		m.search(w, r, parts[0])
	case r.Method == http.MethodPut && len(parts) == 1:
		m.update(w, r, parts[0])
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_URL_PATTERN"})
	}
}

func (m *MockCRM) lookup(w http.ResponseWriter, r *http.Request, module string) {
	wanted := make(map[string]bool)
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		wanted[id] = true
	}

	// Encoding reads the shared record maps, so the lock is held until written.
	m.mu.RLock()
	defer m.mu.RUnlock()

	var data []api.Record
	if mod, ok := m.modules[module]; ok {
		for _, rec := range mod.records {
			if wanted[rec.ID()] {
				data = append(data, rec)
			}
		}
	}

	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockCRM) list(w http.ResponseWriter, r *http.Request, module string) {
	page, perPage := paging(r)

	m.mu.RLock()
	defer m.mu.RUnlock()

	mod, ok := m.modules[module]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_MODULE"})
		return
	}

	etag := fmt.Sprintf(`"%s-v%d-p%d-%d"`, module, mod.version, page, perPage)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writePage(w, mod.records, page, perPage)
}

func (m *MockCRM) search(w http.ResponseWriter, r *http.Request, module string) {
	page, perPage := paging(r)
	groups := equalsGroup.FindAllStringSubmatch(r.URL.Query().Get("criteria"), -1)
	if len(groups) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_QUERY"})
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []api.Record
	if mod, ok := m.modules[module]; ok {
		for _, rec := range mod.records {
			for _, g := range groups {
				if v, ok := rec[g[1]]; ok && fmt.Sprint(v) == g[2] {
					matched = append(matched, rec)
					break
				}
			}
		}
	}

	writePage(w, matched, page, perPage)
}

func (m *MockCRM) update(w http.ResponseWriter, r *http.Request, module string) {
	var body struct {
		Data []api.Record `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "INVALID_DATA"})
		return
	}

	m.mu.Lock()
	mod := m.module(module)
	index := make(map[string]int, len(mod.records))
	for i, rec := range mod.records {
		index[rec.ID()] = i
	}

	statuses := make([]api.WriteStatus, len(body.Data))
	failed := false
	for i, rec := range body.Data {
		id := rec.ID()
		pos, ok := index[id]
		if !ok {
			failed = true
			statuses[i] = api.WriteStatus{Status: "error", Code: "INVALID_DATA", Message: "the related id given seems to be invalid"}
			continue
		}
		for k, v := range rec {
			mod.records[pos][k] = v
		}
		details, _ := json.Marshal(map[string]string{"id": id})
		statuses[i] = api.WriteStatus{Status: api.StatusSuccess, Code: "SUCCESS", Message: "record updated", Details: details}
	}
	mod.version++
	m.mu.Unlock()

	status := http.StatusOK
	if failed {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"data": statuses})
}

func paging(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 200
	}
	return page, perPage
}

func writePage(w http.ResponseWriter, records []api.Record, page, perPage int) {
	first := (page - 1) * perPage
	if first >= len(records) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	last := first + perPage
	if last > len(records) {
		last = len(records)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": records[first:last],
		"info": api.Info{
			MoreRecords: last < len(records),
			Page:        page,
			PerPage:     perPage,
			Count:       last - first,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
