package push

import (
	"fmt"
	"net/http"
	"sync"
)

// SSEChannel frames events onto one server-sent-events HTTP response:
//
//	event: <type>\n
//	data: <payload>\n
//	\n
type SSEChannel struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// Compile-time interface compliance check.
var _ Channel = (*SSEChannel)(nil)

// NewSSEChannel prepares the response for event streaming and writes the
// required headers. Fails if the writer cannot flush incrementally.
func NewSSEChannel(w http.ResponseWriter) (*SSEChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	return &SSEChannel{
		w:       w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}, nil
}

// Send writes one frame and flushes it to the client.
func (c *SSEChannel) Send(eventType, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return fmt.Errorf("sse channel closed")
	default:
	}

	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the channel closed. The serving handler observes Done and
// ends the response. Close takes the write lock so an in-flight Send
// finishes before Done is signalled; once the handler returns, net/http
// tears down the response and any later write would panic.
func (c *SSEChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

// Done is closed once the channel has been closed.
func (c *SSEChannel) Done() <-chan struct{} {
	return c.closed
}
