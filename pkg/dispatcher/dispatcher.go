// Package dispatcher provides the bounded-concurrency job queue that every
// bulk operation submits its remote calls through. At most PoolSize calls run
// at once; the rest wait in strict submission order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for dispatcher operations.
var (
	runningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_dispatcher_running_jobs",
		Help: "Number of jobs currently executing",
	})

	pendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_dispatcher_pending_jobs",
		Help: "Number of jobs waiting for admission",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_dispatcher_jobs_total",
		Help: "Total completed jobs by api method, request method and outcome",
	}, []string{"api_method", "request_method", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_dispatcher_job_duration_seconds",
		Help:    "Time from admission to completion by request method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"request_method"})
)

// ErrClosed is delivered to jobs submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// Executor performs one remote call. Implementations must honour ctx.
type Executor interface {
	Execute(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) (*api.Response, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) (*api.Response, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) (*api.Response, error) {
	return f(ctx, apiMethod, requestMethod, payload)
}

// Job is one unit of work owned by the dispatcher until its result is delivered.
type Job struct {
	ID            string
	APIMethod     string
	RequestMethod string
	Payload       api.Payload

	ctx      context.Context
	done     chan Result
	enqueued time.Time
}

// Result is delivered exactly once per submitted job.
type Result struct {
	Job      *Job
	Response *api.Response
	Err      error
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	PoolSize int `json:"pool_size"`
	Running  int `json:"running"`
	Pending  int `json:"pending"`
}

// Dispatcher runs submitted jobs with bounded concurrency and FIFO admission.
type Dispatcher struct {
	exec    Executor
	config  Config
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []*Job
	running int
	closed  bool
}

// New creates a dispatcher. A non-positive pool size is rejected here instead
// of deadlocking every later submit.
func New(exec Executor, cfg Config) (*Dispatcher, error) {
	if exec == nil {
		return nil, api.Configurationf("executor is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		exec:   exec,
		config: cfg,
		logger: log.With().Str("component", "dispatcher").Logger(),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	d.logger.Info().
		Int("pool_size", cfg.PoolSize).
		Float64("rate_limit", cfg.RateLimit).
		Dur("job_timeout", cfg.JobTimeout).
		Msg("Dispatcher initialized")

	return d, nil
}

// PoolSize returns the configured concurrency ceiling.
func (d *Dispatcher) PoolSize() int {
	return d.config.PoolSize
}

// Submit queues a job and returns the channel its result will be delivered on.
// It never blocks. ctx governs the remote call once the job is admitted.
func (d *Dispatcher) Submit(ctx context.Context, apiMethod, requestMethod string, payload api.Payload) <-chan Result {
	job := &Job{
		ID:            uuid.NewString(),
		APIMethod:     apiMethod,
		RequestMethod: requestMethod,
		Payload:       payload,
		ctx:           ctx,
		done:          make(chan Result, 1),
		enqueued:      time.Now(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		job.done <- Result{Job: job, Err: ErrClosed}
		return job.done
	}
	d.pending = append(d.pending, job)
	pendingJobs.Inc()
	queued := len(d.pending)
	d.mu.Unlock()

	d.logger.Debug().
		Str("job_id", job.ID).
		Str("api_method", apiMethod).
		Str("request_method", requestMethod).
		Str("module", moduleOf(payload)).
		Int("queued", queued).
		Msg("Job submitted")

	d.admit()
	return job.done
}

// admit starts queued jobs while there is room in the pool. Every job runs on
// its own goroutine and calls admit again on completion, so draining a long
// queue never deepens the stack.
func (d *Dispatcher) admit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.running < d.config.PoolSize && len(d.pending) > 0 {
		job := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.running++

		pendingJobs.Dec()
		runningJobs.Inc()

		d.logger.Debug().
			Str("job_id", job.ID).
			Int("running", d.running).
			Int("pending", len(d.pending)).
			Dur("waited", time.Since(job.enqueued)).
			Msg("Job admitted")

		go d.run(job)
	}
}

// run executes an admitted job, delivers its result and frees its slot.
func (d *Dispatcher) run(job *Job) {
	start := time.Now()
	resp, err := d.execute(job)

	job.done <- Result{Job: job, Response: resp, Err: err}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("module", moduleOf(job.Payload)).
			Msg("Job failed")
	}
	jobsTotal.WithLabelValues(job.APIMethod, job.RequestMethod, outcome).Inc()
	jobDuration.WithLabelValues(job.RequestMethod).Observe(time.Since(start).Seconds())

	d.mu.Lock()
	d.running--
	runningJobs.Dec()
	d.mu.Unlock()

	d.admit()
}

// execute calls the executor under the job's deadline and rate limit.
// A panicking executor still completes the job.
func (d *Dispatcher) execute(job *Job) (resp *api.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			resp, err = nil, fmt.Errorf("executor panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()

	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.JobTimeout)
		defer cancel()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	return d.exec.Execute(ctx, job.APIMethod, job.RequestMethod, job.Payload)
}

// Stats returns the current pool occupancy.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		PoolSize: d.config.PoolSize,
		Running:  d.running,
		Pending:  len(d.pending),
	}
}

// Close stops accepting new jobs. Jobs already queued still run to completion.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.logger.Info().Int("pending", len(d.pending)).Msg("Dispatcher closed")
}

func moduleOf(p api.Payload) string {
	if p == nil {
		return ""
	}
	return p.Module()
}
