package batch

import (
	"context"
	"net/url"

	"github.com/Sternrassler/crm-bulk-client/internal/chunks"
	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Per-request maximums of the remote endpoints.
const (
	LookupLimit = 200
	UpdateLimit = 100
)

const (
	operationLookup = "lookup"
	operationUpdate = "update"
)

// Prometheus metrics for batch operations.
var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_batch_outcomes_total",
		Help: "Total record outcomes by operation and outcome",
	}, []string{"operation", "outcome"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_batch_chunks_total",
		Help: "Total chunks resolved by operation and result",
	}, []string{"operation", "result"})
)

// Submitter queues remote calls. *dispatcher.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) <-chan dispatcher.Result
}

// ChunkResult is the outcome of one chunk, delivered as soon as it resolves.
type ChunkResult struct {
	// Index is the chunk's position in the partitioned input.
	Index int

	// Payload is the request sent for the chunk.
	Payload api.Payload

	// Success and Fail hold only this chunk's outcomes.
	Success []api.Outcome
	Fail    []api.Outcome

	// Err is set when the remote rejected the chunk or the call failed.
	Err error
}

// ChunkCallback receives chunk results on the calling goroutine, one at a time.
type ChunkCallback func(ChunkResult)

// LookupOptions tune a bulk lookup.
type LookupOptions struct {
	// Params are extra query parameters (e.g. approved=both).
	Params url.Values

	// Limit overrides the chunk size; values outside 1..LookupLimit use LookupLimit.
	Limit int
}

// Orchestrator runs chunked bulk calls through a shared Submitter.
type Orchestrator struct {
	submitter Submitter
	logger    zerolog.Logger
}

// New creates an orchestrator.
func New(submitter Submitter) *Orchestrator {
	return &Orchestrator{
		submitter: submitter,
		logger:    log.With().Str("component", "batch").Logger(),
	}
}

// Lookup fetches records by id in chunks of at most LookupLimit ids.
// Ids missing from a successful response are reported as failures.
func (o *Orchestrator) Lookup(ctx context.Context, module string, ids []string, opts LookupOptions, cb ChunkCallback) (api.Result, error) {
	if module == "" {
		return api.Result{}, api.Validationf("module is required")
	}

	limit := opts.Limit
	if limit <= 0 || limit > LookupLimit {
		limit = LookupLimit
	}

	groups := chunks.Split(ids, limit)
	payloads := make([]api.Payload, len(groups))
	for i, g := range groups {
		payloads[i] = api.LookupPayload{ModuleName: module, IDs: g, Params: opts.Params}
	}

	o.logger.Debug().
		Str("module", module).
		Int("ids", len(ids)).
		Int("chunks", len(payloads)).
		Msg("Starting bulk lookup")

	return o.run(ctx, operationLookup, api.RequestGet, payloads, cb), nil
}

// Update writes records back in chunks of at most UpdateLimit records.
// Each record is classified by its own status in the write response.
func (o *Orchestrator) Update(ctx context.Context, module string, records []api.Record, cb ChunkCallback) (api.Result, error) {
	if module == "" {
		return api.Result{}, api.Validationf("module is required")
	}

	groups := chunks.Split(records, UpdateLimit)
	payloads := make([]api.Payload, len(groups))
	for i, g := range groups {
		payloads[i] = api.UpdatePayload{ModuleName: module, Records: g}
	}

	o.logger.Debug().
		Str("module", module).
		Int("records", len(records)).
		Int("chunks", len(payloads)).
		Msg("Starting bulk update")

	return o.run(ctx, operationUpdate, api.RequestPut, payloads, cb), nil
}

// run submits every chunk, then classifies results in arrival order until the
// completed count reaches the chunk count.
func (o *Orchestrator) run(ctx context.Context, operation, requestMethod string, payloads []api.Payload, cb ChunkCallback) api.Result {
	var total api.Result
	if len(payloads) == 0 {
		return total
	}

	events := make(chan ChunkResult, len(payloads))
	for i, p := range payloads {
		pending := o.submitter.Submit(ctx, api.MethodModules, requestMethod, p)
		go func(index int, p api.Payload, pending <-chan dispatcher.Result) {
			res := <-pending
			events <- classify(index, p, res)
		}(i, p, pending)
	}

	for completed := 0; completed < len(payloads); completed++ {
		chunk := <-events

		total.Success = append(total.Success, chunk.Success...)
		total.Fail = append(total.Fail, chunk.Fail...)

		result := "ok"
		if chunk.Err != nil {
			result = "error"
			total.Errors = append(total.Errors, chunk.Err)
			o.logger.Warn().
				Err(chunk.Err).
				Str("operation", operation).
				Str("module", chunk.Payload.Module()).
				Int("chunk", chunk.Index).
				Msg("Chunk rejected")
		} else {
			o.logger.Debug().
				Str("operation", operation).
				Int("chunk", chunk.Index).
				Int("success", len(chunk.Success)).
				Int("fail", len(chunk.Fail)).
				Int("completed", completed+1).
				Int("total", len(payloads)).
				Msg("Chunk resolved")
		}

		chunksTotal.WithLabelValues(operation, result).Inc()
		outcomesTotal.WithLabelValues(operation, "success").Add(float64(len(chunk.Success)))
		outcomesTotal.WithLabelValues(operation, "fail").Add(float64(len(chunk.Fail)))

		if cb != nil {
			cb(chunk)
		}
	}

	o.logger.Info().
		Str("operation", operation).
		Int("chunks", len(payloads)).
		Int("success", len(total.Success)).
		Int("fail", len(total.Fail)).
		Msg("Bulk call complete")

	return total
}
