package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/linkup/internal/types"
)

// RunStore is a JSON-file-backed workflow run store. Runs are kept in
// runs/runs.json keyed by (kind, idempotency key); the single store mutex
// makes the dedup check-and-create atomic.
type RunStore struct {
	root string
	mu   sync.RWMutex
}

// NewRunStore creates a new file-backed RunStore rooted at the given directory.
func NewRunStore(root string) *RunStore {
	return &RunStore{root: root}
}

func (s *RunStore) path() string {
	return filepath.Join(s.root, "runs", "runs.json")
}

// load reads runs.json into a map keyed by run key. Caller must hold the lock.
func (s *RunStore) load() (map[string]*types.WorkflowRun, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*types.WorkflowRun), nil
		}
		return nil, fmt.Errorf("read runs file: %w", err)
	}

	var runs []*types.WorkflowRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("unmarshal runs: %w", err)
	}

	index := make(map[string]*types.WorkflowRun, len(runs))
	for _, run := range runs {
		index[run.RunKey()] = run
	}
	return index, nil
}

// save writes the run map to disk using atomic write (temp file + rename).
func (s *RunStore) save(index map[string]*types.WorkflowRun) error {
	runs := make([]*types.WorkflowRun, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal runs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp runs file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp runs file: %w", err)
	}
	return nil
}

// FindByKey returns the run for (kind, idempotencyKey).
func (s *RunStore) FindByKey(_ context.Context, kind, idempotencyKey string) (*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	run, ok := index[kind+":"+idempotencyKey]
	if !ok {
		return nil, types.NotFound("run", kind+":"+idempotencyKey)
	}
	return run, nil
}

// Create inserts a new run. Fails if a run with the same key exists,
// enforcing the one-run-per-(kind, idempotencyKey) invariant.
func (s *RunStore) Create(_ context.Context, run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := index[run.RunKey()]; ok {
		return fmt.Errorf("run already exists: %s", run.RunKey())
	}

	index[run.RunKey()] = run
	return s.save(index)
}

// Update persists changes to an existing run, setting UpdatedAt to now.
func (s *RunStore) Update(_ context.Context, run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := index[run.RunKey()]; !ok {
		return fmt.Errorf("run not found: %s", run.RunKey())
	}

	run.UpdatedAt = time.Now()
	index[run.RunKey()] = run
	return s.save(index)
}

// ListDue returns sleeping runs whose ResumeAt is at or before now.
func (s *RunStore) ListDue(_ context.Context, now time.Time) ([]*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	var due []*types.WorkflowRun
	for _, run := range index {
		if run.State == types.RunSleeping && run.ResumeAt != nil && !run.ResumeAt.After(now) {
			due = append(due, run)
		}
	}
	return due, nil
}

// List returns all runs.
func (s *RunStore) List(_ context.Context) ([]*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	runs := make([]*types.WorkflowRun, 0, len(index))
	for _, run := range index {
		runs = append(runs, run)
	}
	return runs, nil
}
