package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/batch"
	"github.com/Sternrassler/crm-bulk-client/pkg/criteria"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/Sternrassler/crm-bulk-client/pkg/pagination"
)

// fakeCRM answers lookups, updates and searches from a fixed record set.
type fakeCRM struct {
	records map[string]api.Record

	mu       sync.Mutex
	searches []string
}

func newFakeCRM(ids ...string) *fakeCRM {
	f := &fakeCRM{records: make(map[string]api.Record)}
	for _, id := range ids {
		f.records[id] = api.Record{"id": id, "Email": id + "@example.com"}
	}
	return f
}

func (f *fakeCRM) Execute(ctx context.Context, apiMethod, requestMethod string, p api.Payload) (*api.Response, error) {
	switch p := p.(type) {
	case api.LookupPayload:
		var data []api.Record
		for _, id := range p.IDs {
			if rec, ok := f.records[id]; ok {
				data = append(data, rec)
			}
		}
		return listResponse(data, false, 1)

	case api.UpdatePayload:
		statuses := make([]api.WriteStatus, len(p.Records))
		for i, rec := range p.Records {
			statuses[i] = api.WriteStatus{Status: "error", Code: "INVALID_DATA"}
			if _, ok := f.records[rec.ID()]; ok {
				statuses[i] = api.WriteStatus{Status: api.StatusSuccess, Code: "SUCCESS"}
			}
		}
		body, _ := json.Marshal(map[string]any{"data": statuses})
		return &api.Response{StatusCode: http.StatusOK, Body: body}, nil

	case api.PagePayload:
		if requestMethod == api.RequestSearch {
			f.mu.Lock()
			f.searches = append(f.searches, p.Criteria)
			f.mu.Unlock()
		}
		if p.Page > 1 {
			return &api.Response{StatusCode: http.StatusNoContent}, nil
		}
		var data []api.Record
		for id, rec := range f.records {
			if p.Criteria == "" || strings.Contains(p.Criteria, ":"+id+")") {
				data = append(data, rec)
			}
		}
		if len(data) == 0 {
			return &api.Response{StatusCode: http.StatusNoContent}, nil
		}
		return listResponse(data, false, p.Page)
	}
	return nil, errors.New("unexpected payload")
}

func listResponse(data []api.Record, more bool, page int) (*api.Response, error) {
	if len(data) == 0 {
		return &api.Response{StatusCode: http.StatusNoContent}, nil
	}
	body, err := json.Marshal(map[string]any{
		"data": data,
		"info": api.Info{MoreRecords: more, Page: page, Count: len(data)},
	})
	if err != nil {
		return nil, err
	}
	return &api.Response{StatusCode: http.StatusOK, Body: body}, nil
}

func newTestClient(t *testing.T, exec dispatcher.Executor) *Client {
	t.Helper()
	c, err := New(exec, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_RejectsBadPool(t *testing.T) {
	_, err := New(newFakeCRM(), Config{Dispatcher: dispatcher.Config{PoolSize: 0}})
	if !errors.Is(err, api.ErrConfiguration) {
		t.Errorf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestClient_LookupAndUpdate(t *testing.T) {
	c := newTestClient(t, newFakeCRM("1", "2", "3"))
	ctx := context.Background()

	res, err := c.Lookup(ctx, "Leads", []string{"1", "2", "9"}, batch.LookupOptions{}, nil)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(res.Success) != 2 || len(res.Fail) != 1 || res.Fail[0].ID != "9" {
		t.Errorf("Lookup() = %+v", res)
	}

	one, err := c.LookupOne(ctx, "Leads", "3", batch.LookupOptions{})
	if err != nil || len(one.Success) != 1 {
		t.Errorf("LookupOne() = %+v, %v", one, err)
	}

	up, err := c.Update(ctx, "Leads", []api.Record{{"id": "1"}, {"id": "404"}}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(up.Success) != 1 || len(up.Fail) != 1 || up.Fail[0].ID != "404" {
		t.Errorf("Update() = %+v", up)
	}
}

func TestClient_Scan(t *testing.T) {
	c := newTestClient(t, newFakeCRM("1", "2", "3", "4"))

	res, err := c.Scan(context.Background(), "Leads", pagination.Options{Lanes: 2}, nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(res.Success) != 4 {
		t.Errorf("Success = %d, want 4", len(res.Success))
	}
}

func TestClient_SearchValidates(t *testing.T) {
	remote := newFakeCRM("1")
	c := newTestClient(t, remote)

	_, err := c.Search(context.Background(), "Leads", "id = 1", pagination.Options{}, nil)
	if !errors.Is(err, criteria.ErrNoGroups) {
		t.Errorf("Search() error = %v, want ErrNoGroups", err)
	}
	if len(remote.searches) != 0 {
		t.Errorf("searches = %v, want none dispatched", remote.searches)
	}

	res, err := c.Search(context.Background(), "Leads", "(id:equals:1)", pagination.Options{}, nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Success) != 1 {
		t.Errorf("Success = %d, want 1", len(res.Success))
	}
}

func TestClient_SearchEach(t *testing.T) {
	ids := []string{"a01", "a02", "a03", "a04", "a05", "a06", "a07", "a08", "a09", "a10", "a11", "a12"}
	remote := newFakeCRM(ids[:10]...)
	c := newTestClient(t, remote)

	records := make([]api.Record, len(ids))
	for i, id := range ids {
		records[i] = api.Record{"id": id}
	}

	var mu sync.Mutex
	inCallback := false
	events := 0
	res, err := c.SearchEach(context.Background(), "Leads", records, "(id:equals:$id)or(Parent_Id:equals:$id)", pagination.Options{}, func(p pagination.PageResult) {
		mu.Lock()
		if inCallback {
			t.Error("callback entered concurrently")
		}
		inCallback = true
		mu.Unlock()

		events++

		mu.Lock()
		inCallback = false
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("SearchEach() error = %v", err)
	}

	// 12 records x 2 groups: chunks of 5, 5 and 2.
	if len(remote.searches) != 3 {
		t.Errorf("searches = %d, want 3", len(remote.searches))
	}
	for _, s := range remote.searches {
		if _, err := criteria.Validate(s); err != nil {
			t.Errorf("dispatched criteria %q invalid: %v", s, err)
		}
	}
	if len(res.Success) != 10 {
		t.Errorf("Success = %d, want 10", len(res.Success))
	}
	if events < 3 {
		t.Errorf("events = %d, want at least one per search", events)
	}
}

func TestClient_SearchEachRejectsTemplate(t *testing.T) {
	c := newTestClient(t, newFakeCRM())

	_, err := c.SearchEach(context.Background(), "Leads", []api.Record{{"id": "1"}}, "no groups", pagination.Options{}, nil)
	if !errors.Is(err, api.ErrValidation) {
		t.Errorf("SearchEach() error = %v, want ErrValidation", err)
	}
}

func TestClient_SearchEachWideRecord(t *testing.T) {
	remote := newFakeCRM()
	c := newTestClient(t, remote)

	records := make([]api.Record, 20)
	for i := range records {
		records[i] = api.Record{"id": fmt.Sprintf("r%02d", i)}
	}
	records[3]["id"] = "x)or(Name:equals:y"

	if _, err := c.SearchEach(context.Background(), "Leads", records, "(id:equals:$id)", pagination.Options{}, nil); err != nil {
		t.Fatalf("SearchEach() error = %v", err)
	}
	for _, s := range remote.searches {
		if _, err := criteria.Validate(s); err != nil {
			t.Errorf("dispatched criteria %q invalid: %v", s, err)
		}
	}
}

func TestClient_SearchEachRejectsBeforeDispatch(t *testing.T) {
	remote := newFakeCRM()
	c := newTestClient(t, remote)

	template := "(id:equals:$id)"
	for i := 1; i < criteria.MaxGroups; i++ {
		template += fmt.Sprintf("and(F%d:equals:1)", i)
	}
	records := make([]api.Record, 20)
	for i := range records {
		records[i] = api.Record{"id": fmt.Sprintf("r%02d", i)}
	}
	records[15]["id"] = "x)or(Name:equals:y"

	_, err := c.SearchEach(context.Background(), "Leads", records, template, pagination.Options{}, nil)
	if !errors.Is(err, api.ErrValidation) {
		t.Errorf("SearchEach() error = %v, want ErrValidation", err)
	}
	if len(remote.searches) != 0 {
		t.Errorf("searches = %d, want 0", len(remote.searches))
	}
}

func TestClient_CompileCriteriaUsesPoolSize(t *testing.T) {
	c, err := New(newFakeCRM(), Config{Dispatcher: dispatcher.Config{PoolSize: 3}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	records := []api.Record{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}
	plan, err := c.CompileCriteria(records, "(id:equals:$id)")
	if err != nil {
		t.Fatalf("CompileCriteria() error = %v", err)
	}
	if len(plan) != 2 || len(plan[0]) != 3 {
		t.Errorf("CompileCriteria() = %v, want chunks of 3", plan)
	}
}

func TestClient_StatsAndClose(t *testing.T) {
	c, err := New(newFakeCRM("1"), DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if s := c.Stats(); s.PoolSize != 5 || s.Running != 0 || s.Pending != 0 {
		t.Errorf("Stats() = %+v, want idle pool of 5", s)
	}

	c.Close()
	res, err := c.Lookup(context.Background(), "Leads", []string{"1"}, batch.LookupOptions{}, nil)
	if err != nil {
		t.Fatalf("Lookup() after Close error = %v", err)
	}
	if len(res.Fail) != 1 || len(res.Errors) != 1 || !errors.Is(res.Errors[0], dispatcher.ErrClosed) {
		t.Errorf("Lookup() after Close = %+v, want ErrClosed failure", res)
	}
}
