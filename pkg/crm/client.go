// Package crm is the public entry point: one Client owns one dispatcher and
// runs bulk lookups, scans, updates and criteria searches through it, so
// every operation shares the same concurrency budget.
package crm

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/Sternrassler/crm-bulk-client/pkg/batch"
	"github.com/Sternrassler/crm-bulk-client/pkg/criteria"
	"github.com/Sternrassler/crm-bulk-client/pkg/dispatcher"
	"github.com/Sternrassler/crm-bulk-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds client configuration.
type Config struct {
	Dispatcher dispatcher.Config `yaml:"dispatcher"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{Dispatcher: dispatcher.DefaultConfig()}
}

// Client runs bulk CRM operations.
type Client struct {
	dispatcher *dispatcher.Dispatcher
	batch      *batch.Orchestrator
	scanner    *pagination.Scanner
	compiler   criteria.Compiler
	logger     zerolog.Logger
}

// New creates a client that executes remote calls through exec.
func New(exec dispatcher.Executor, cfg Config) (*Client, error) {
	d, err := dispatcher.New(exec, cfg.Dispatcher)
	if err != nil {
		return nil, err
	}

	c := &Client{
		dispatcher: d,
		batch:      batch.New(d),
		scanner:    pagination.New(d),
		compiler:   criteria.Compiler{PoolSize: d.PoolSize()},
		logger:     log.With().Str("component", "crm").Logger(),
	}

	c.logger.Info().
		Int("pool_size", d.PoolSize()).
		Float64("rate_limit", cfg.Dispatcher.RateLimit).
		Dur("job_timeout", cfg.Dispatcher.JobTimeout).
		Msg("CRM client initialized")

	return c, nil
}

// Lookup fetches records of module by id.
func (c *Client) Lookup(ctx context.Context, module string, ids []string, opts batch.LookupOptions, cb batch.ChunkCallback) (api.Result, error) {
	return c.batch.Lookup(ctx, module, ids, opts, cb)
}

// LookupOne fetches a single record of module by id.
func (c *Client) LookupOne(ctx context.Context, module, id string, opts batch.LookupOptions) (api.Result, error) {
	return c.batch.Lookup(ctx, module, []string{id}, opts, nil)
}

// Scan fetches every record of module.
func (c *Client) Scan(ctx context.Context, module string, opts pagination.Options, cb pagination.PageCallback) (api.Result, error) {
	return c.scanner.Scan(ctx, module, opts, cb)
}

// Update writes records back to module.
func (c *Client) Update(ctx context.Context, module string, records []api.Record, cb batch.ChunkCallback) (api.Result, error) {
	return c.batch.Update(ctx, module, records, cb)
}

// Search scans every record of module matching expr.
func (c *Client) Search(ctx context.Context, module, expr string, opts pagination.Options, cb pagination.PageCallback) (api.Result, error) {
	if _, err := criteria.Validate(expr); err != nil {
		return api.Result{}, err
	}
	opts.Criteria = expr
	return c.scanner.Scan(ctx, module, opts, cb)
}

// SearchEach resolves template once per record, joins the expressions of each
// planned chunk and searches all chunks concurrently. Page events of every
// chunk are passed to cb one at a time.
func (c *Client) SearchEach(ctx context.Context, module string, records []api.Record, template string, opts pagination.Options, cb pagination.PageCallback) (api.Result, error) {
	if module == "" {
		return api.Result{}, api.Validationf("module is required")
	}
	plan, err := c.CompileCriteria(records, template)
	if err != nil {
		return api.Result{}, err
	}
	exprs := make([]string, len(plan))
	for i, chunk := range plan {
		exprs[i] = criteria.Join(chunk)
		if _, err := criteria.Validate(exprs[i]); err != nil {
			return api.Result{}, fmt.Errorf("search %d: %w", i, err)
		}
	}

	c.logger.Debug().
		Str("module", module).
		Int("records", len(records)).
		Int("searches", len(plan)).
		Msg("Starting per-record search")

	var mu sync.Mutex
	serialized := func(p pagination.PageResult) {
		if cb == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		cb(p)
	}

	results := make([]api.Result, len(plan))
	var g errgroup.Group
	for i, expr := range exprs {
		g.Go(func() error {
			res, err := c.Search(ctx, module, expr, opts, serialized)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return api.Result{}, err
	}

	var total api.Result
	for _, r := range results {
		total.Merge(r)
	}
	return total, nil
}

// CompileCriteria resolves template once per record into a search plan.
func (c *Client) CompileCriteria(records []api.Record, template string) (criteria.Plan, error) {
	return c.compiler.Compile(records, template)
}

// Stats returns a snapshot of the dispatcher state.
func (c *Client) Stats() dispatcher.Stats {
	return c.dispatcher.Stats()
}

// Close stops accepting new work. Calls already queued still complete.
func (c *Client) Close() {
	c.dispatcher.Close()
	c.logger.Info().Msg("CRM client closed")
}
