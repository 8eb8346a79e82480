package push

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/user/linkup/internal/types"
)

// Channel is the outbound transport for one connected client.
type Channel interface {
	// Send writes one framed event. A failed write means the transport is
	// gone; the registry reacts by unregistering, never by retrying.
	Send(eventType, data string) error
	Close()
}

type entry struct {
	handle   types.ChannelHandle
	ch       Channel
	openedAt time.Time
	stop     chan struct{}
}

// Registry maps a user to at most one live push channel. Registering a new
// channel for a user evicts and closes the previous one (last writer wins).
// Absence of a channel is a normal condition, never an error.
type Registry struct {
	mu        sync.RWMutex
	channels  map[types.UserID]*entry
	heartbeat time.Duration
	wg        sync.WaitGroup
}

// NewRegistry creates an empty Registry. heartbeat is the keep-alive frame
// interval; zero selects the default of 30 seconds.
func NewRegistry(heartbeat time.Duration) *Registry {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Registry{
		channels:  make(map[types.UserID]*entry),
		heartbeat: heartbeat,
	}
}

// Register replaces any existing channel for the user and starts a
// heartbeat timer scoped to the new channel's lifetime.
func (r *Registry) Register(userID types.UserID, ch Channel) types.ChannelHandle {
	e := &entry{
		handle:   types.NewChannelHandle(),
		ch:       ch,
		openedAt: time.Now(),
		stop:     make(chan struct{}),
	}

	r.mu.Lock()
	old := r.channels[userID]
	r.channels[userID] = e
	r.mu.Unlock()

	if old != nil {
		close(old.stop)
		old.ch.Close()
		slog.Info("push channel evicted", "user_id", string(userID), "handle", string(old.handle))
	}

	r.wg.Add(1)
	go r.runHeartbeat(userID, e)

	slog.Info("push channel registered", "user_id", string(userID), "handle", string(e.handle))
	return e.handle
}

// Unregister cancels the heartbeat and removes the user's channel. Safe to
// call for a user with no channel.
func (r *Registry) Unregister(userID types.UserID) {
	r.mu.Lock()
	e := r.channels[userID]
	delete(r.channels, userID)
	r.mu.Unlock()

	if e == nil {
		return
	}
	close(e.stop)
	e.ch.Close()
	slog.Info("push channel unregistered", "user_id", string(userID), "handle", string(e.handle))
}

// UnregisterHandle removes the user's channel only if it is still the one
// identified by handle, so a disconnect racing an eviction cannot tear down
// the replacement channel.
func (r *Registry) UnregisterHandle(userID types.UserID, handle types.ChannelHandle) {
	r.mu.RLock()
	e := r.channels[userID]
	r.mu.RUnlock()
	if e == nil || e.handle != handle {
		return
	}
	r.drop(userID, e)
}

// drop removes the entry only if it is still the user's current channel,
// so a replacement registered in the meantime is left alone.
func (r *Registry) drop(userID types.UserID, e *entry) {
	r.mu.Lock()
	current := r.channels[userID]
	if current == e {
		delete(r.channels, userID)
	}
	r.mu.Unlock()

	if current == e {
		close(e.stop)
		e.ch.Close()
	}
}

// SendIfPresent delivers one event to the user's channel if one is
// registered. It reports whether delivery was attempted; no channel is a
// silent no-op. A write failure unregisters the channel and is never
// surfaced to the caller.
func (r *Registry) SendIfPresent(userID types.UserID, eventType string, payload any) bool {
	r.mu.RLock()
	e := r.channels[userID]
	r.mu.RUnlock()
	if e == nil {
		return false
	}

	data, err := encodePayload(payload)
	if err != nil {
		slog.Error("encode push payload", "user_id", string(userID), "error", err)
		return false
	}

	if err := e.ch.Send(eventType, data); err != nil {
		werr := &types.ChannelWriteError{UserID: userID, Err: err}
		slog.Warn("push write failed, dropping channel", "user_id", string(userID), "error", werr)
		r.drop(userID, e)
	}
	return true
}

// Connected reports whether the user currently has a registered channel.
func (r *Registry) Connected(userID types.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[userID] != nil
}

// CloseAll unregisters every channel, used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[types.UserID]*entry)
	r.mu.Unlock()

	for _, e := range channels {
		close(e.stop)
		e.ch.Close()
	}
	r.wg.Wait()
}

// runHeartbeat emits a keep-alive frame on the fixed interval for as long
// as the entry stays registered. A failed write drops the channel.
func (r *Registry) runHeartbeat(userID types.UserID, e *entry) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.ch.Send("ping", "keep-alive"); err != nil {
				slog.Debug("heartbeat write failed, dropping channel", "user_id", string(userID), "error", err)
				r.drop(userID, e)
				return
			}
		case <-e.stop:
			return
		}
	}
}

// encodePayload renders the payload as JSON, passing strings through as-is.
func encodePayload(payload any) (string, error) {
	if s, ok := payload.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
