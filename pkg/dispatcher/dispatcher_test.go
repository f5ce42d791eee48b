package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/crm-bulk-client/pkg/api"
)

// recordingExecutor tracks concurrency and call order.
type recordingExecutor struct {
	mu      sync.Mutex
	current int
	peak    int
	order   []string
	calls   map[string]int
	delay   time.Duration
	release chan struct{}
}

func newRecordingExecutor(delay time.Duration) *recordingExecutor {
	return &recordingExecutor{calls: make(map[string]int), delay: delay}
}

func (e *recordingExecutor) Execute(ctx context.Context, apiMethod, requestMethod string, p api.Payload) (*api.Response, error) {
	e.mu.Lock()
	e.current++
	if e.current > e.peak {
		e.peak = e.current
	}
	e.order = append(e.order, p.Module())
	e.calls[p.Module()]++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.current--
		e.mu.Unlock()
	}()

	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &api.Response{StatusCode: 200, Body: []byte(`{"data":[]}`)}, nil
}

func payload(name string) api.Payload {
	return api.LookupPayload{ModuleName: name}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for job result")
		return Result{}
	}
}

func TestNew_Validation(t *testing.T) {
	exec := newRecordingExecutor(0)

	tests := []struct {
		name        string
		exec        Executor
		config      Config
		expectError bool
	}{
		{
			name:        "valid config",
			exec:        exec,
			config:      DefaultConfig(),
			expectError: false,
		},
		{
			name:        "zero pool size",
			exec:        exec,
			config:      Config{PoolSize: 0},
			expectError: true,
		},
		{
			name:        "negative pool size",
			exec:        exec,
			config:      Config{PoolSize: -3},
			expectError: true,
		},
		{
			name:        "negative rate limit",
			exec:        exec,
			config:      Config{PoolSize: 1, RateLimit: -1},
			expectError: true,
		},
		{
			name:        "negative job timeout",
			exec:        exec,
			config:      Config{PoolSize: 1, JobTimeout: -time.Second},
			expectError: true,
		},
		{
			name:        "nil executor",
			exec:        nil,
			config:      DefaultConfig(),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.exec, tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if !errors.Is(err, api.ErrConfiguration) {
					t.Errorf("Error %v does not wrap ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d == nil {
				t.Fatal("Dispatcher is nil")
			}
		})
	}
}

func TestConfig_BurstDefaultsToPoolSize(t *testing.T) {
	cfg := Config{PoolSize: 4, RateLimit: 10}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Burst != 4 {
		t.Errorf("Burst = %d, want 4", cfg.Burst)
	}
}

func TestSubmit_PoolSizeNeverExceeded(t *testing.T) {
	for _, poolSize := range []int{1, 2, 5, 16} {
		for _, jobs := range []int{1, 7, 60} {
			t.Run(fmt.Sprintf("pool_%d_jobs_%d", poolSize, jobs), func(t *testing.T) {
				exec := newRecordingExecutor(2 * time.Millisecond)
				d, err := New(exec, Config{PoolSize: poolSize})
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}

				results := make([]<-chan Result, jobs)
				for i := range jobs {
					results[i] = d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload(fmt.Sprintf("job-%d", i)))
				}
				for _, ch := range results {
					if r := waitResult(t, ch); r.Err != nil {
						t.Errorf("Unexpected job error: %v", r.Err)
					}
				}

				exec.mu.Lock()
				defer exec.mu.Unlock()
				if exec.peak > poolSize {
					t.Errorf("Peak concurrency = %d, exceeds pool size %d", exec.peak, poolSize)
				}
				if len(exec.order) != jobs {
					t.Errorf("Executed %d jobs, want %d", len(exec.order), jobs)
				}
				for name, n := range exec.calls {
					if n != 1 {
						t.Errorf("Job %s executed %d times, want 1", name, n)
					}
				}

				stats := d.Stats()
				if stats.Running != 0 || stats.Pending != 0 {
					t.Errorf("Stats after drain = %+v, want idle", stats)
				}
			})
		}
	}
}

func TestSubmit_FIFOAdmission(t *testing.T) {
	exec := newRecordingExecutor(time.Millisecond)
	d, err := New(exec, Config{PoolSize: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var results []<-chan Result
	for i := range 20 {
		results = append(results, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload(fmt.Sprintf("%02d", i))))
	}
	for _, ch := range results {
		waitResult(t, ch)
	}

	for i, name := range exec.order {
		if want := fmt.Sprintf("%02d", i); name != want {
			t.Fatalf("Admission order[%d] = %s, want %s", i, name, want)
		}
	}
}

func TestSubmit_NeverBlocks(t *testing.T) {
	exec := newRecordingExecutor(0)
	exec.release = make(chan struct{})

	d, err := New(exec, Config{PoolSize: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan []<-chan Result)
	go func() {
		var results []<-chan Result
		for i := range 50 {
			results = append(results, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload(fmt.Sprint(i))))
		}
		done <- results
	}()

	var results []<-chan Result
	select {
	case results = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while the pool was saturated")
	}

	stats := d.Stats()
	if stats.Running != 3 {
		t.Errorf("Running = %d, want 3", stats.Running)
	}
	if stats.Pending != 47 {
		t.Errorf("Pending = %d, want 47", stats.Pending)
	}

	close(exec.release)
	for _, ch := range results {
		waitResult(t, ch)
	}
}

func TestSubmit_ResolvesExactlyOnce(t *testing.T) {
	exec := newRecordingExecutor(0)
	d, err := New(exec, Config{PoolSize: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ch := d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("once"))
	r := waitResult(t, ch)
	if r.Job == nil || r.Job.ID == "" {
		t.Fatal("Result carries no job identity")
	}
	if r.Response == nil || r.Response.StatusCode != 200 {
		t.Errorf("Response = %+v, want status 200", r.Response)
	}

	select {
	case extra := <-ch:
		t.Errorf("Received a second result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, _, _ string, _ api.Payload) (*api.Response, error) {
		calls.Add(1)
		return &api.Response{StatusCode: 200}, nil
	})

	d, err := New(exec, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := waitResult(t, d.Submit(ctx, api.MethodModules, api.RequestGet, payload("x")))
	if !errors.Is(r.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", r.Err)
	}
	if calls.Load() != 0 {
		t.Errorf("Executor called %d times for a cancelled job", calls.Load())
	}
}

func TestSubmit_JobTimeout(t *testing.T) {
	exec := newRecordingExecutor(time.Second)
	d, err := New(exec, Config{PoolSize: 1, JobTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r := waitResult(t, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("slow")))
	if !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want context.DeadlineExceeded", r.Err)
	}

	// The slot is released after a timeout.
	exec.delay = 0
	r = waitResult(t, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("fast")))
	if r.Err != nil {
		t.Errorf("Follow-up job failed: %v", r.Err)
	}
}

func TestSubmit_RateLimit(t *testing.T) {
	exec := newRecordingExecutor(0)
	d, err := New(exec, Config{PoolSize: 5, RateLimit: 20, Burst: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	var results []<-chan Result
	for i := range 5 {
		results = append(results, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload(fmt.Sprint(i))))
	}
	for _, ch := range results {
		waitResult(t, ch)
	}

	// 5 calls at 20/s with burst 1 need at least 4 intervals of 50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("5 rate-limited calls finished in %v, expected >= 150ms", elapsed)
	}
}

func TestSubmit_ExecutorPanic(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _, _ string, p api.Payload) (*api.Response, error) {
		if p.Module() == "boom" {
			panic("kaboom")
		}
		return &api.Response{StatusCode: 200}, nil
	})

	d, err := New(exec, Config{PoolSize: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r := waitResult(t, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("boom")))
	if r.Err == nil {
		t.Fatal("Expected error from panicking executor")
	}

	r = waitResult(t, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("ok")))
	if r.Err != nil {
		t.Errorf("Pool slot leaked after panic: %v", r.Err)
	}
}

func TestClose(t *testing.T) {
	exec := newRecordingExecutor(0)
	exec.release = make(chan struct{})

	d, err := New(exec, Config{PoolSize: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first := d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("first"))
	queued := d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("queued"))

	d.Close()
	d.Close()

	rejected := waitResult(t, d.Submit(context.Background(), api.MethodModules, api.RequestGet, payload("late")))
	if !errors.Is(rejected.Err, ErrClosed) {
		t.Errorf("Err = %v, want ErrClosed", rejected.Err)
	}

	close(exec.release)
	if r := waitResult(t, first); r.Err != nil {
		t.Errorf("Running job failed after Close: %v", r.Err)
	}
	if r := waitResult(t, queued); r.Err != nil {
		t.Errorf("Queued job dropped after Close: %v", r.Err)
	}
}
