package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/linkup/internal/types"
)

// Engine executes registered handlers' ordered steps for triggered events.
// Runs are persisted step by step, deduplicated on (kind, idempotency key),
// and may park via SuspendUntil without holding a worker; the Resumer
// re-enters them once their deadline passes.
type Engine struct {
	runs  types.RunStore
	queue *Queue
	retry *RetryPolicy
	clock Clock

	mu       sync.RWMutex
	handlers map[string][]Step
	onFailed func(*types.WorkflowRun)
}

// Option configures optional engine behavior.
type Option func(*Engine)

// WithClock replaces the wall clock, used by tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithOnFailed sets a callback invoked when a run reaches terminal FAILED.
func WithOnFailed(fn func(*types.WorkflowRun)) Option {
	return func(e *Engine) { e.onFailed = fn }
}

// New creates an Engine over the given run store with the given concurrency
// limit for simultaneous run execution.
func New(runs types.RunStore, maxConcurrent int64, opts ...Option) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	e := &Engine{
		runs:     runs,
		queue:    NewQueue(maxConcurrent),
		retry:    DefaultRetryPolicy(),
		clock:    WallClock{},
		handlers: make(map[string][]Step),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue.SetProcessor(e.process)
	return e
}

// RegisterHandler binds an ordered step sequence to an event kind.
func (e *Engine) RegisterHandler(kind string, steps []Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = steps
}

// Kinds returns the event kinds with a registered handler.
func (e *Engine) Kinds() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]string, 0, len(e.handlers))
	for kind := range e.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Start initialises the engine's execution queue.
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop drains the queue and waits for in-flight executions.
func (e *Engine) Stop() {
	e.queue.Stop()
}

// WaitIdle blocks until no runs are executing, or the timeout expires.
func (e *Engine) WaitIdle(timeout time.Duration) bool {
	return e.queue.WaitIdle(timeout)
}

// Trigger looks up or creates the run for the event and executes it up to
// its first suspend point, completion, or failure. A duplicate trigger for
// an existing run returns that run without re-executing anything.
func (e *Engine) Trigger(ctx context.Context, event *types.DomainEvent) (*types.WorkflowRun, error) {
	e.mu.RLock()
	_, registered := e.handlers[event.Kind]
	e.mu.RUnlock()
	if !registered {
		return nil, types.Validationf("no handler registered for kind %s", event.Kind)
	}
	if event.IdempotencyKey == "" {
		return nil, types.Validationf("event %s has no idempotency key", event.Kind)
	}

	existing, err := e.runs.FindByKey(ctx, event.Kind, event.IdempotencyKey)
	if err == nil {
		// Dedup: terminal runs return their recorded outcome, non-terminal
		// runs return the in-flight handle.
		return existing, nil
	}
	if !types.IsNotFound(err) {
		return nil, err
	}

	now := e.clock.Now()
	run := &types.WorkflowRun{
		RunID:          types.NewRunID(),
		Kind:           event.Kind,
		IdempotencyKey: event.IdempotencyKey,
		State:          types.RunCreated,
		Payload:        event.Payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.runs.Create(ctx, run); err != nil {
		// Lost a concurrent-delivery race; return the winner's handle.
		if winner, ferr := e.runs.FindByKey(ctx, event.Kind, event.IdempotencyKey); ferr == nil {
			return winner, nil
		}
		return nil, err
	}

	exec := &execution{RunKey: run.RunKey(), done: make(chan struct{})}
	if err := e.queue.Enqueue(exec); err != nil {
		return run, err
	}
	select {
	case <-exec.done:
	case <-ctx.Done():
		return run, ctx.Err()
	}
	return e.runs.FindByKey(ctx, event.Kind, event.IdempotencyKey)
}

// ResumeDue re-enters every sleeping run whose deadline has passed. Called
// periodically by the Resumer; exported so tests can drive it directly.
func (e *Engine) ResumeDue(ctx context.Context) error {
	due, err := e.runs.ListDue(ctx, e.clock.Now())
	if err != nil {
		return fmt.Errorf("list due runs: %w", err)
	}
	for _, run := range due {
		exec := &execution{RunKey: run.RunKey(), done: make(chan struct{})}
		if err := e.queue.Enqueue(exec); err != nil {
			slog.Error("enqueue resumed run", "run_id", string(run.RunID), "error", err)
		}
	}
	return nil
}

// process is one execution pass over a run. Lane serialization guarantees
// no two passes over the same run key overlap.
func (e *Engine) process(exec *execution) error {
	ctx := exec.Ctx
	kind, key, _ := strings.Cut(exec.RunKey, ":")
	run, err := e.runs.FindByKey(ctx, kind, key)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return nil
	}

	e.mu.RLock()
	steps := e.handlers[run.Kind]
	e.mu.RUnlock()
	if steps == nil {
		return fmt.Errorf("no handler registered for kind %s", run.Kind)
	}

	if run.State == types.RunSleeping {
		if run.ResumeAt != nil && e.clock.Now().Before(*run.ResumeAt) {
			// Woken early; the resumer will come back at or after ResumeAt.
			return nil
		}
		// The sleeping step completed by reaching its deadline. Record it
		// so it is never re-entered.
		if run.CurrentStep < len(steps) {
			data, _ := json.Marshal(run.ResumeAt)
			run.Steps = append(run.Steps, types.StepResult{
				Name:        steps[run.CurrentStep].Name,
				Result:      data,
				CompletedAt: e.clock.Now(),
			})
			run.CurrentStep++
		}
		run.ResumeAt = nil
	}

	run.State = types.RunRunning
	run.ResumeAt = nil
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}

	for run.CurrentStep < len(steps) {
		step := steps[run.CurrentStep]
		result, err := e.runStep(ctx, run, step)
		if err != nil {
			if until, ok := suspendTarget(err); ok {
				run.State = types.RunSleeping
				run.ResumeAt = &until
				if uerr := e.runs.Update(ctx, run); uerr != nil {
					return uerr
				}
				slog.Debug("run sleeping", "run_id", string(run.RunID), "kind", run.Kind, "resume_at", until)
				return nil
			}
			return e.fail(ctx, run, err)
		}

		data, merr := json.Marshal(result)
		if merr != nil {
			return e.fail(ctx, run, fmt.Errorf("marshal step result %s: %w", step.Name, merr))
		}
		run.Steps = append(run.Steps, types.StepResult{
			Name:        step.Name,
			Result:      data,
			CompletedAt: e.clock.Now(),
		})
		run.CurrentStep++
		if err := e.runs.Update(ctx, run); err != nil {
			return err
		}
	}

	run.State = types.RunCompleted
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}
	slog.Info("run completed", "run_id", string(run.RunID), "kind", run.Kind, "steps", len(run.Steps))
	return nil
}

// runStep executes one step with bounded exponential-backoff retries for
// transient failures. The retry count is persisted before each re-attempt
// so it survives restarts.
func (e *Engine) runStep(ctx context.Context, run *types.WorkflowRun, step Step) (any, error) {
	for {
		sc := &StepContext{Ctx: ctx, Run: run, Payload: run.Payload, Now: e.clock.Now()}
		result, err := step.Fn(sc)
		if err == nil {
			return result, nil
		}
		if _, ok := suspendTarget(err); ok {
			return nil, err
		}

		run.RetryCount++
		run.LastError = err.Error()
		if uerr := e.runs.Update(ctx, run); uerr != nil {
			return nil, uerr
		}
		if !e.retry.ShouldRetry(err, run.RetryCount) {
			return nil, err
		}

		delay := e.retry.NextDelay(run.RetryCount)
		slog.Warn("step failed, retrying",
			"run_id", string(run.RunID),
			"step", step.Name,
			"attempt", run.RetryCount,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// fail moves the run to terminal FAILED. Failures are contained to their
// run; they never cascade to unrelated runs or to the event producer.
func (e *Engine) fail(ctx context.Context, run *types.WorkflowRun, cause error) error {
	run.State = types.RunFailed
	run.LastError = cause.Error()
	if err := e.runs.Update(ctx, run); err != nil {
		return err
	}
	slog.Error("run failed terminally",
		"run_id", string(run.RunID),
		"kind", run.Kind,
		"retry_count", run.RetryCount,
		"error", cause,
	)
	if e.onFailed != nil {
		e.onFailed(run)
	}
	return nil
}
