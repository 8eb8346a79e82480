package mail

import (
	"context"
	"sync"

	"github.com/user/linkup/internal/types"
)

// Compile-time interface compliance checks.
var _ types.Mailer = (*SMTPMailer)(nil)
var _ types.Mailer = (*Recorder)(nil)

// Recorder is an in-memory Mailer for tests and dry runs. It records every
// e-mail it is asked to send.
type Recorder struct {
	mu   sync.Mutex
	sent []*types.Email
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the e-mail.
func (r *Recorder) Send(_ context.Context, email *types.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, email)
	return nil
}

// Sent returns a copy of all recorded e-mails.
func (r *Recorder) Sent() []*types.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Email, len(r.sent))
	copy(out, r.sent)
	return out
}

// SentTo returns the recorded e-mails addressed to the given recipient.
func (r *Recorder) SentTo(to string) []*types.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Email
	for _, e := range r.sent {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}
