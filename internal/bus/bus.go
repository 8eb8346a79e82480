package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/linkup/internal/events"
	"github.com/user/linkup/internal/types"
)

// Handler consumes a dispatched event. Handler outcomes never propagate to
// the publisher; event emission is fire-and-forget.
type Handler func(ctx context.Context, event *types.DomainEvent)

// Validator checks an event payload against the schema for its kind before
// any handler sees it.
type Validator func(payload json.RawMessage) error

// cronParser accepts standard 5-field cron expressions with an optional
// TZ/CRON_TZ prefix and descriptors like @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Bus is the typed ingress for domain events and cron ticks. Publishing
// validates the payload, mirrors the event to the configured publisher, and
// fans out to every handler registered for the kind.
type Bus struct {
	mu         sync.RWMutex
	validators map[string]Validator
	handlers   map[string][]Handler
	cron       *cron.Cron
	mirror     events.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bus mirroring accepted events to the given publisher.
func New(mirror events.Publisher) *Bus {
	if mirror == nil {
		mirror = events.NewNoopPublisher()
	}
	return &Bus{
		validators: make(map[string]Validator),
		handlers:   make(map[string][]Handler),
		cron:       cron.New(cron.WithParser(cronParser)),
		mirror:     mirror,
	}
}

// RegisterKind declares an event kind with an optional payload validator.
// Publishing an undeclared kind is a validation error.
func (b *Bus) RegisterKind(kind string, validate Validator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validators[kind] = validate
}

// Subscribe adds a handler for the given kind. One event may trigger
// several independent handlers (fan-out, not fan-in).
func (b *Bus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// RegisterCron binds a cron expression (TZ/CRON_TZ prefix supported) to a
// synthetic event kind emitted once per tick. Ticks missed while the
// process was down are not backfilled; the idempotency key embeds the tick
// time so each tick is its own run.
func (b *Bus) RegisterCron(spec, kind string) error {
	b.mu.RLock()
	_, known := b.validators[kind]
	b.mu.RUnlock()
	if !known {
		return fmt.Errorf("cron kind not registered: %s", kind)
	}

	_, err := b.cron.AddFunc(spec, func() {
		tick := time.Now()
		event := &types.DomainEvent{
			Kind:           kind,
			IdempotencyKey: fmt.Sprintf("%s@%s", kind, tick.Format(time.RFC3339)),
			OccurredAt:     tick,
		}
		if err := b.Publish(context.Background(), event); err != nil {
			slog.Error("cron tick publish failed", "kind", kind, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	slog.Info("cron registered", "spec", spec, "kind", kind)
	return nil
}

// Start launches the cron ticker and the dispatch context.
func (b *Bus) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.cron.Start()
}

// Stop stops the cron ticker and waits for in-flight dispatches.
func (b *Bus) Stop() {
	b.cron.Stop()
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// Publish validates the event and dispatches it to every handler for its
// kind. Returns a ValidationError for unknown kinds or schema-invalid
// payloads; handler failures are contained and never surface here.
func (b *Bus) Publish(ctx context.Context, event *types.DomainEvent) error {
	b.mu.RLock()
	validate, known := b.validators[event.Kind]
	handlers := b.handlers[event.Kind]
	b.mu.RUnlock()

	if !known {
		return types.Validationf("unknown event kind: %s", event.Kind)
	}
	if validate != nil {
		if err := validate(event.Payload); err != nil {
			return err
		}
	}

	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := b.mirror.Publish(ctx, events.Subject(event.Kind), event); err != nil {
		// Mirroring is best-effort; local dispatch proceeds regardless.
		slog.Warn("event mirror publish failed", "kind", event.Kind, "error", err)
	}

	dispatchCtx := b.ctx
	if dispatchCtx == nil {
		dispatchCtx = context.Background()
	}
	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			h(dispatchCtx, event)
		}()
	}
	slog.Debug("event published", "kind", event.Kind, "idempotency_key", event.IdempotencyKey, "handlers", len(handlers))
	return nil
}
