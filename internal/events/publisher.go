package events

import (
	"context"
)

// Subject prefix for mirrored domain events, e.g. "linkup.clerk.user.created".
const SubjectPrefix = "linkup"

// Publisher is the interface for mirroring accepted domain events to an
// external stream. Mirroring is best-effort: failures are logged by the
// caller, never surfaced to event producers.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// Subject maps an event kind to a mirror subject. Slashes in kinds become
// dots so kinds stay addressable with subject wildcards.
func Subject(kind string) string {
	out := make([]byte, 0, len(SubjectPrefix)+1+len(kind))
	out = append(out, SubjectPrefix...)
	out = append(out, '.')
	for i := 0; i < len(kind); i++ {
		if kind[i] == '/' {
			out = append(out, '.')
			continue
		}
		out = append(out, kind[i])
	}
	return string(out)
}
