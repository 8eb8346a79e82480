package events

import "context"

// NoopPublisher discards all events. Used when no mirror is configured.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, subject string, event any) error {
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
