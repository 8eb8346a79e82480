// Package handlers defines the workflow step sequences for every event
// kind and wires them onto the bus and engine.
package handlers

import (
	"context"
	"log/slog"

	"github.com/user/linkup/internal/bus"
	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/types"
)

// Deps are the collaborators the workflows act on.
type Deps struct {
	Users       types.UserStore
	Messages    types.MessageStore
	Connections types.ConnectionStore
	Stories     types.StoryStore
	Mailer      types.Mailer
	FrontendURL string
}

// Wire registers every event kind (with its payload validator) on the bus,
// every step sequence on the engine, and subscribes the engine's trigger to
// each kind. Trigger failures are logged, never propagated to producers.
func Wire(b *bus.Bus, eng *engine.Engine, deps Deps) {
	userSync := NewUserSync(deps.Users)
	eng.RegisterHandler(types.KindUserCreated, userSync.CreatedSteps())
	eng.RegisterHandler(types.KindUserUpdated, userSync.UpdatedSteps())
	eng.RegisterHandler(types.KindUserDeleted, userSync.DeletedSteps())

	reminder := NewConnectionReminder(deps.Connections, deps.Users, deps.Mailer, deps.FrontendURL)
	eng.RegisterHandler(types.KindConnectionRequest, reminder.Steps())

	cleanup := NewStoryCleanup(deps.Stories)
	eng.RegisterHandler(types.KindStoryDelete, cleanup.Steps())

	digest := NewUnseenDigest(deps.Messages, deps.Users, deps.Mailer, deps.FrontendURL)
	eng.RegisterHandler(types.KindUnseenDigest, digest.Steps())

	b.RegisterKind(types.KindUserCreated, ValidateClerkUser)
	b.RegisterKind(types.KindUserUpdated, ValidateClerkUser)
	b.RegisterKind(types.KindUserDeleted, ValidateClerkUserDeleted)
	b.RegisterKind(types.KindConnectionRequest, ValidateConnectionRequest)
	b.RegisterKind(types.KindStoryDelete, ValidateStoryDelete)
	b.RegisterKind(types.KindUnseenDigest, nil)

	for _, kind := range eng.Kinds() {
		b.Subscribe(kind, func(ctx context.Context, event *types.DomainEvent) {
			if _, err := eng.Trigger(ctx, event); err != nil {
				slog.Error("workflow trigger failed",
					"kind", event.Kind,
					"idempotency_key", event.IdempotencyKey,
					"error", err,
				)
			}
		})
	}
}
