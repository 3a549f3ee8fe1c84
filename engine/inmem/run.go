package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/telemetry"
	"github.com/geniusboywonder/bmad-core/telemetry/noop"
)

// run implements both engine.WorkflowContext (passed to the running
// WorkflowFunc) and engine.WorkflowHandle (returned to the caller of
// StartWorkflow).
type run struct {
	id     string
	engine *Engine
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	result  any
	err     error
	signals map[string]chan any
}

// --- engine.WorkflowContext ---

func (r *run) Context() context.Context { return r.ctx }
func (r *run) WorkflowID() string       { return r.id }
func (r *run) RunID() string            { return r.id }
func (r *run) Now() time.Time           { return time.Now().UTC() }

func (r *run) Logger() telemetry.Logger   { return noop.Logger{} }
func (r *run) Metrics() telemetry.Metrics { return noop.Metrics{} }

func (r *run) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	future, err := r.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return future.Get(ctx, result)
}

func (r *run) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	def, ok := r.engine.activity(req.Name)
	if !ok {
		return nil, fmt.Errorf("inmem: unknown activity %q", req.Name)
	}

	resultCh := make(chan activityResult, 1)
	actCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		actCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	go func() {
		if cancel != nil {
			defer cancel()
		}
		value, err := runWithRetry(actCtx, def.Handler, req.Input, retryPolicyOrDefault(req.RetryPolicy, def.Options.RetryPolicy))
		resultCh <- activityResult{value: value, err: err}
	}()

	return &future{resultCh: resultCh}, nil
}

func (r *run) SignalChannel(name string) engine.SignalChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.signals[name]
	if !ok {
		ch = make(chan any, 16)
		r.signals[name] = ch
	}
	return &signalChannel{ch: ch}
}

// --- engine.WorkflowHandle ---

func (r *run) Wait(ctx context.Context, result any) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return assign(result, r.result)
}

func (r *run) Signal(_ context.Context, name string, payload any) error {
	r.mu.Lock()
	ch, ok := r.signals[name]
	if !ok {
		ch = make(chan any, 16)
		r.signals[name] = ch
	}
	r.mu.Unlock()
	select {
	case ch <- payload:
		return nil
	default:
		return fmt.Errorf("inmem: signal channel %q full for run %s", name, r.id)
	}
}

func (r *run) Cancel(_ context.Context) error {
	r.cancel()
	return nil
}

// --- supporting types ---

type activityResult struct {
	value any
	err   error
}

type future struct {
	resultCh chan activityResult
	mu       sync.Mutex
	got      bool
	value    any
	err      error
}

func (f *future) Get(ctx context.Context, result any) error {
	f.mu.Lock()
	if f.got {
		defer f.mu.Unlock()
		if f.err != nil {
			return f.err
		}
		return assign(result, f.value)
	}
	f.mu.Unlock()

	select {
	case r := <-f.resultCh:
		f.mu.Lock()
		f.got, f.value, f.err = true, r.value, r.err
		f.mu.Unlock()
		if r.err != nil {
			return r.err
		}
		return assign(result, r.value)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *future) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got {
		return true
	}
	select {
	case r := <-f.resultCh:
		f.got, f.value, f.err = true, r.value, r.err
		return true
	default:
		return false
	}
}

type signalChannel struct {
	ch chan any
}

func (s *signalChannel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-s.ch:
		return assign(dest, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		return assign(dest, v) == nil
	default:
		return false
	}
}

// assign copies src into dest, which must be a pointer. Values exchanged
// in-process are typically already the right concrete type, in which case
// a direct assertion avoids a JSON round trip; otherwise we fall back to
// marshal/unmarshal so dest's shape still matches what Temporal's data
// converter would produce from the same payload.
func assign(dest, src any) error {
	if dest == nil || src == nil {
		return nil
	}
	if assigned := tryDirectAssign(dest, src); assigned {
		return nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func tryDirectAssign(dest, src any) bool {
	switch d := dest.(type) {
	case *any:
		*d = src
		return true
	default:
		return false
	}
}

func retryPolicyOrDefault(primary, fallback engine.RetryPolicy) engine.RetryPolicy {
	if primary.MaxAttempts > 0 {
		return primary
	}
	return fallback
}

func runWithRetry(ctx context.Context, handler engine.ActivityFunc, input any, policy engine.RetryPolicy) (any, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	coefficient := policy.BackoffCoefficient
	if coefficient <= 0 {
		coefficient = 2
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := handler(ctx, input)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		interval = time.Duration(float64(interval) * coefficient)
	}
	return nil, lastErr
}
