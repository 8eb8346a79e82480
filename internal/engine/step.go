package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/linkup/internal/types"
)

// StepContext is passed to each step. It exposes the triggering payload,
// previously recorded results, and the engine clock.
type StepContext struct {
	Ctx     context.Context
	Run     *types.WorkflowRun
	Payload json.RawMessage
	Now     time.Time
}

// BindPayload unmarshals the triggering event payload into v.
func (sc *StepContext) BindPayload(v any) error {
	if err := json.Unmarshal(sc.Payload, v); err != nil {
		return types.Validationf("decode payload for %s: %v", sc.Run.Kind, err)
	}
	return nil
}

// Result returns the recorded result of a previously completed step, or
// false if that step has not completed.
func (sc *StepContext) Result(name string) (json.RawMessage, bool) {
	for _, step := range sc.Run.Steps {
		if step.Name == name {
			return step.Result, true
		}
	}
	return nil, false
}

// StepFunc executes one step. It returns a result to record, or an error.
// Returning SuspendUntil(t) parks the run until t without holding a worker.
type StepFunc func(sc *StepContext) (any, error)

// Step is one named unit of a handler's ordered sequence.
type Step struct {
	Name string
	Fn   StepFunc
}

// suspendError signals that the run should sleep until the given instant.
type suspendError struct {
	until time.Time
}

func (e *suspendError) Error() string {
	return fmt.Sprintf("suspend until %s", e.until.Format(time.RFC3339))
}

// SuspendUntil is returned from a step to park the run until t.
func SuspendUntil(t time.Time) error {
	return &suspendError{until: t}
}

func suspendTarget(err error) (time.Time, bool) {
	var se *suspendError
	if errors.As(err, &se) {
		return se.until, true
	}
	return time.Time{}, false
}
