package types

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed event payload or missing required
// field. The triggering run/step fails immediately and is not retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a temporarily unavailable dependency (datastore,
// mail transport). Retried with bounded exponential backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NotFoundError marks a referenced entity that does not exist. Benign for
// delete-if-exists cleanup, a hard failure for steps that require the
// entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ChannelWriteError marks a failed write to a push channel. Never
// propagated to the message-creation caller; the registry unregisters the
// channel instead.
type ChannelWriteError struct {
	UserID UserID
	Err    error
}

func (e *ChannelWriteError) Error() string {
	return fmt.Sprintf("channel write for user %s: %v", e.UserID, e.Err)
}

func (e *ChannelWriteError) Unwrap() error { return e.Err }
