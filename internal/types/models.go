package types

import (
	"encoding/json"
	"time"
)

// Event kinds accepted by the bus.
const (
	KindUserCreated       = "clerk/user.created"
	KindUserUpdated       = "clerk/user.updated"
	KindUserDeleted       = "clerk/user.deleted"
	KindConnectionRequest = "app/connection-request"
	KindStoryDelete       = "app/story.delete"
	KindUnseenDigest      = "cron/unseen-messages-digest"
)

// DomainEvent is the unit of ingress for the workflow subsystem. The
// IdempotencyKey is stable per logical occurrence (usually the source record
// id), so re-delivery of the same occurrence does not duplicate side effects.
type DomainEvent struct {
	ID             EventID         `json:"id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// RunState is the lifecycle state of a workflow run.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunSleeping  RunState = "sleeping"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StepResult records one completed step. A recorded step is never
// re-executed on resume or retry.
type StepResult struct {
	Name        string          `json:"name"`
	Result      json.RawMessage `json:"result,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// WorkflowRun is the persisted execution record for one (Kind,
// IdempotencyKey) pair.
type WorkflowRun struct {
	RunID          RunID           `json:"run_id"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	State          RunState        `json:"state"`
	CurrentStep    int             `json:"current_step"`
	Steps          []StepResult    `json:"steps,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ResumeAt       *time.Time      `json:"resume_at,omitempty"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RunKey identifies a run for dedup purposes.
func (r *WorkflowRun) RunKey() string {
	return r.Kind + ":" + r.IdempotencyKey
}

// User is the profile record kept in sync from identity-provider events.
type User struct {
	ID             UserID `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// Message is owned by the messaging collaborator; the core reads it to push
// and to compute unseen digests.
type Message struct {
	ID         MessageID `json:"id"`
	FromUserID UserID    `json:"from_user_id"`
	ToUserID   UserID    `json:"to_user_id"`
	Text       string    `json:"text,omitempty"`
	MediaURL   string    `json:"media_url,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConnectionStatus values for Connection.Status.
const (
	ConnectionPending  = "pending"
	ConnectionAccepted = "accepted"
)

// Connection is read only inside the connection-reminder workflow.
type Connection struct {
	ID         ConnectionID `json:"id"`
	FromUserID UserID       `json:"from_user_id"`
	ToUserID   UserID       `json:"to_user_id"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Story expires 24 hours after creation via the story-delete workflow.
type Story struct {
	ID        StoryID   `json:"id"`
	UserID    UserID    `json:"user_id"`
	MediaURL  string    `json:"media_url,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is an outbound notification handed to the Mailer.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"` // HTML
}
