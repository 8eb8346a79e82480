package types

import (
	"context"
	"time"
)

type RunStore interface {
	// FindByKey returns the run for (kind, idempotencyKey), or a
	// NotFoundError if none exists.
	FindByKey(ctx context.Context, kind, idempotencyKey string) (*WorkflowRun, error)
	// Create inserts a new run; it fails if a run with the same
	// (kind, idempotencyKey) already exists.
	Create(ctx context.Context, run *WorkflowRun) error
	Update(ctx context.Context, run *WorkflowRun) error
	// ListDue returns sleeping runs whose ResumeAt is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*WorkflowRun, error)
	List(ctx context.Context) ([]*WorkflowRun, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id UserID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Upsert(ctx context.Context, user *User) error
	Delete(ctx context.Context, id UserID) error
}

type MessageStore interface {
	Create(ctx context.Context, msg *Message) error
	FindUnseen(ctx context.Context) ([]*Message, error)
	// MarkConversationSeen flips seen=true on every message from one user
	// to another (update-many).
	MarkConversationSeen(ctx context.Context, from, to UserID) error
	ListConversation(ctx context.Context, a, b UserID) ([]*Message, error)
}

type ConnectionStore interface {
	FindByID(ctx context.Context, id ConnectionID) (*Connection, error)
	Upsert(ctx context.Context, conn *Connection) error
}

type StoryStore interface {
	FindByID(ctx context.Context, id StoryID) (*Story, error)
	Upsert(ctx context.Context, story *Story) error
	// Delete is delete-if-exists: removing an absent story is a no-op.
	Delete(ctx context.Context, id StoryID) error
}

// Mailer sends notification e-mails. Implementations must tolerate being
// called from concurrent workflow runs.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}
