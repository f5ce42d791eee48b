package pagination

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scan defaults and limits.
const (
	DefaultPage    = 1
	DefaultPerPage = 200
	MaxPerPage     = 200
	DefaultLanes   = 1
)

// Prometheus metrics for scans.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_scan_pages_total",
		Help: "Total scan page events by result",
	}, []string{"result"})

	skippedPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_scan_skipped_pages_total",
		Help: "Total pages skipped because a sibling lane already found the end",
	})
)

var errEmptyResponse = errors.New("executor returned no response")

// Submitter queues remote calls. *dispatcher.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) <-chan dispatcher.Result
}

// Options configure a scan.
type Options struct {
	// Page is the first page to fetch (default 1).
	Page int `json:"page,omitempty"`

	// PerPage is the page size (default and maximum 200).
	PerPage int `json:"per_page,omitempty"`

	// Lanes is the number of pages in flight at once (default 1).
	Lanes int `json:"lanes,omitempty"`

	// Headers are sent with every page request (e.g. If-Modified-Since).
	Headers http.Header `json:"-"`

	// Criteria switches the scan to the search endpoint.
	Criteria string `json:"criteria,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.Page <= 0 {
		o.Page = DefaultPage
	}
	if o.PerPage <= 0 || o.PerPage > MaxPerPage {
		o.PerPage = DefaultPerPage
	}
	if o.Lanes <= 0 {
		o.Lanes = DefaultLanes
	}
	return o
}

// PageResult is one page event of a scan.
type PageResult struct {
	Lane int
	Page int

	// Records holds the page's records as success outcomes.
	Records []api.Outcome

	// MoreRecords is set when the lane continues past this page.
	MoreRecords bool

	// Skipped is set when the page was not requested because the
	// low-water-mark already covered it.
	Skipped bool

	// Err is set when the page failed. The lane ends with it.
	Err error
}

// PageCallback receives page events on the calling goroutine, one at a time.
type PageCallback func(PageResult)

// Scanner runs parallel page scans through a shared Submitter.
type Scanner struct {
	submitter Submitter
	logger    zerolog.Logger
}

// New creates a scanner.
func New(submitter Submitter) *Scanner {
	return &Scanner{
		submitter: submitter,
		logger:    log.With().Str("component", "pagination").Logger(),
	}
}

// lane is one scan cursor. Only its own goroutine touches it.
type lane struct {
	id   int
	page int
}

// Scan fetches pages of module until every lane has run out of records and
// returns all records as success outcomes. Page failures end their lane and
// are collected in Result.Errors; they never abort sibling lanes.
func (s *Scanner) Scan(ctx context.Context, module string, opts Options, cb PageCallback) (api.Result, error) {
	if module == "" {
		return api.Result{}, api.Validationf("module is required")
	}
	opts = opts.withDefaults()

	start := time.Now()
	mark := NewLowWaterMark()
	events := make(chan PageResult, opts.Lanes)

	for k := 0; k < opts.Lanes; k++ {
		l := &lane{id: k, page: opts.Page + k}
		go s.runLane(ctx, module, opts, l, mark, events)
	}

	s.logger.Debug().
		Str("module", module).
		Int("start_page", opts.Page).
		Int("per_page", opts.PerPage).
		Int("lanes", opts.Lanes).
		Bool("search", opts.Criteria != "").
		Msg("Starting scan")

	var total api.Result
	completed, expected := 0, opts.Lanes
	for completed < expected {
		ev := <-events
		completed++
		if ev.MoreRecords {
			expected++
		}

		total.Success = append(total.Success, ev.Records...)

		switch {
		case ev.Err != nil:
			total.Errors = append(total.Errors, ev.Err)
			pagesTotal.WithLabelValues("error").Inc()
			s.logger.Warn().
				Err(ev.Err).
				Str("module", module).
				Int("lane", ev.Lane).
				Int("page", ev.Page).
				Msg("Page failed, lane stopped")
		case ev.Skipped:
			pagesTotal.WithLabelValues("skipped").Inc()
			skippedPagesTotal.Inc()
		case len(ev.Records) == 0 && !ev.MoreRecords:
			pagesTotal.WithLabelValues("empty").Inc()
		default:
			pagesTotal.WithLabelValues("data").Inc()
		}

		if cb != nil {
			cb(ev)
		}
	}

	markPage, _ := mark.Value()
	s.logger.Info().
		Str("module", module).
		Int("pages", completed).
		Int("records", len(total.Success)).
		Int("errors", len(total.Errors)).
		Int("low_water_mark", markPage).
		Dur("duration", time.Since(start)).
		Msg("Scan complete")

	return total, nil
}

// runLane fetches pages for one lane until it runs out of records.
// Every iteration sends exactly one event.
func (s *Scanner) runLane(ctx context.Context, module string, opts Options, l *lane, mark *LowWaterMark, events chan<- PageResult) {
	for {
		ev, next := s.step(ctx, module, opts, l, mark)
		events <- ev
		if !ev.MoreRecords {
			return
		}
		l.page = next
	}
}

// step fetches the lane's current page and returns its event and the lane's
// next page.
func (s *Scanner) step(ctx context.Context, module string, opts Options, l *lane, mark *LowWaterMark) (PageResult, int) {
	ev := PageResult{Lane: l.id, Page: l.page}

	if err := ctx.Err(); err != nil {
		ev.Err = err
		return ev, 0
	}
	if mark.Covers(l.page) {
		ev.Skipped = true
		return ev, 0
	}

	payload := api.PagePayload{
		ModuleName: module,
		Page:       l.page,
		PerPage:    opts.PerPage,
		Headers:    opts.Headers,
		Criteria:   opts.Criteria,
	}
	requestMethod := api.RequestGet
	if opts.Criteria != "" {
		requestMethod = api.RequestSearch
	}

	res := <-s.submitter.Submit(ctx, api.MethodModules, requestMethod, payload)
	if res.Err != nil {
		ev.Err = res.Err
		return ev, 0
	}
	if res.Response == nil {
		ev.Err = errEmptyResponse
		return ev, 0
	}

	switch res.Response.StatusCode {
	case http.StatusOK:
		body, err := api.DecodeList(res.Response.Body)
		if err != nil {
			ev.Err = err
			return ev, 0
		}

		ev.Records = make([]api.Outcome, 0, len(body.Data))
		for _, raw := range body.Data {
			var id string
			if rec, err := api.DecodeRecord(raw); err == nil {
				id = rec.ID()
			}
			ev.Records = append(ev.Records, api.Outcome{
				Module:   module,
				ID:       id,
				Payload:  payload,
				Response: raw,
			})
		}

		ev.MoreRecords = body.Info.MoreRecords
		from := body.Info.Page
		if from <= 0 {
			from = l.page
		}
		return ev, from + opts.Lanes

	case http.StatusNoContent, http.StatusNotModified, http.StatusNotFound:
		if mark.Lower(l.page) {
			s.logger.Debug().
				Str("module", module).
				Int("lane", l.id).
				Int("page", l.page).
				Msg("Low-water-mark lowered")
		}
		return ev, 0

	default:
		ev.Err = &api.RemoteError{
			Module:     module,
			StatusCode: res.Response.StatusCode,
			Body:       string(res.Response.Body),
		}
		return ev, 0
	}
}
