package push

import (
	"log/slog"

	"github.com/user/linkup/internal/types"
)

// Dispatcher fans newly persisted messages out to the recipient's live
// channel, if any. Persistence happens-before push: the caller invokes
// OnMessageCreated only after the message is durably stored, so a client
// that reconnects and re-fetches history always sees pushed messages.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// OnMessageCreated pushes the message to the recipient if connected.
// Reports whether delivery was attempted. A disconnected recipient, or a
// failed push, never fails the message-send path.
func (d *Dispatcher) OnMessageCreated(msg *types.Message) bool {
	attempted := d.registry.SendIfPresent(msg.ToUserID, "message", msg)
	if !attempted {
		slog.Debug("recipient not connected, push skipped",
			"message_id", string(msg.ID),
			"to_user_id", string(msg.ToUserID),
		)
	}
	return attempted
}
