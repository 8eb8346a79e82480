package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// execution is one pass over a run: from trigger or resume up to the next
// suspend point, completion, or failure. done is closed when the pass ends.
type execution struct {
	RunKey string
	Ctx    context.Context
	done   chan struct{}
}

// Queue manages per-run-key lanes with a global concurrency semaphore.
// Executions for the same run key are processed sequentially so a trigger
// and a resume can never run the same workflow concurrently, while the
// semaphore bounds total parallelism across runs. A saturated pool queues
// rather than spinning up new resources.
type Queue struct {
	lanes     map[string]chan *execution
	semaphore *semaphore.Weighted
	processor func(*execution) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent executions to
// proceed simultaneously across all run keys.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[string]chan *execution),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// executions to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[string]chan *execution)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds an execution to its run key's lane, creating the lane (and
// its goroutine) on first use. Returns an error if the queue is stopped or
// the lane's buffer is full.
func (q *Queue) Enqueue(exec *execution) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue stopped")
	}

	lane, exists := q.lanes[exec.RunKey]
	if !exists {
		lane = make(chan *execution, 100)
		q.lanes[exec.RunKey] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- exec:
		return nil
	default:
		return fmt.Errorf("queue full for run %s", exec.RunKey)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// invoking the processor synchronously. Strict FIFO within a run key.
func (q *Queue) processLane(lane chan *execution) {
	defer q.wg.Done()
	for {
		select {
		case exec, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				close(exec.done)
				drain(lane)
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				exec.Ctx = q.ctx
				if err := q.processor(exec); err != nil {
					slog.Error("run execution failed", "run_key", exec.RunKey, "error", err)
				}
				q.active.Add(-1)
			}
			close(exec.done)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			drain(lane)
			return
		}
	}
}

// drain releases every execution still buffered in the lane on shutdown so
// no Trigger caller stays blocked on its done channel. Enqueue rejects new
// work once the context is canceled, so the buffer cannot refill.
func drain(lane chan *execution) {
	for {
		select {
		case exec, ok := <-lane:
			if !ok {
				return
			}
			close(exec.done)
		default:
			return
		}
	}
}

// WaitIdle blocks until no executions are actively being processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued execution.
func (q *Queue) SetProcessor(fn func(*execution) error) {
	q.processor = fn
}
