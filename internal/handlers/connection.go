package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/types"
)

const reminderDelay = 24 * time.Hour

// ConnectionRequestPayload carries the id of the requested connection.
type ConnectionRequestPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ValidateConnectionRequest checks the schema for connection-request events.
func ValidateConnectionRequest(payload json.RawMessage) error {
	var p ConnectionRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.Validationf("decode connection request payload: %v", err)
	}
	if p.ConnectionID == "" {
		return types.Validationf("connection request payload: missing connectionId")
	}
	return nil
}

// ConnectionReminder notifies the recipient of a new connection request
// immediately, then again 24 hours later if the request is still pending.
type ConnectionReminder struct {
	connections types.ConnectionStore
	users       types.UserStore
	mailer      types.Mailer
	frontendURL string
}

// NewConnectionReminder creates the connection-request reminder workflow.
func NewConnectionReminder(connections types.ConnectionStore, users types.UserStore, mailer types.Mailer, frontendURL string) *ConnectionReminder {
	return &ConnectionReminder{
		connections: connections,
		users:       users,
		mailer:      mailer,
		frontendURL: frontendURL,
	}
}

// Steps returns the ordered step sequence.
func (h *ConnectionReminder) Steps() []engine.Step {
	return []engine.Step{
		{Name: "send-request-email", Fn: h.sendRequestEmail},
		{Name: "wait-for-24-hours", Fn: func(sc *engine.StepContext) (any, error) {
			return nil, engine.SuspendUntil(sc.Now.Add(reminderDelay))
		}},
		{Name: "send-reminder-email", Fn: h.sendReminderEmail},
	}
}

// lookup resolves the connection and both user records. A vanished
// connection or user is a hard failure: a reminder needs its entities.
func (h *ConnectionReminder) lookup(sc *engine.StepContext) (*types.Connection, *types.User, *types.User, error) {
	var p ConnectionRequestPayload
	if err := sc.BindPayload(&p); err != nil {
		return nil, nil, nil, err
	}

	conn, err := h.connections.FindByID(sc.Ctx, types.ConnectionID(p.ConnectionID))
	if err != nil {
		return nil, nil, nil, err
	}
	to, err := h.users.FindByID(sc.Ctx, conn.ToUserID)
	if err != nil {
		return nil, nil, nil, err
	}
	from, err := h.users.FindByID(sc.Ctx, conn.FromUserID)
	if err != nil {
		return nil, nil, nil, err
	}
	return conn, to, from, nil
}

func (h *ConnectionReminder) sendRequestEmail(sc *engine.StepContext) (any, error) {
	_, to, from, err := h.lookup(sc)
	if err != nil {
		return nil, err
	}

	email := connectionRequestEmail(to, from, h.frontendURL)
	if err := h.mailer.Send(sc.Ctx, email); err != nil {
		return nil, wrapMailErr(err)
	}
	return map[string]string{"sent_to": to.Email}, nil
}

func (h *ConnectionReminder) sendReminderEmail(sc *engine.StepContext) (any, error) {
	conn, to, from, err := h.lookup(sc)
	if err != nil {
		return nil, err
	}

	// Already accepted: the run completes with no further action.
	if conn.Status == types.ConnectionAccepted {
		return map[string]string{"outcome": "accepted, no reminder sent"}, nil
	}

	email := connectionReminderEmail(to, from, h.frontendURL)
	if err := h.mailer.Send(sc.Ctx, email); err != nil {
		return nil, wrapMailErr(err)
	}
	return map[string]string{"sent_to": to.Email}, nil
}

// wrapMailErr keeps already-classified mail errors as-is and marks the rest
// transient so the engine retries them.
func wrapMailErr(err error) error {
	if types.IsTransient(err) || types.IsValidation(err) {
		return err
	}
	return types.Transient(fmt.Errorf("send email: %w", err))
}
