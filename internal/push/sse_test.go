package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSSEChannelHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	ch, err := NewSSEChannel(rec)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	headers := rec.Header()
	if got := headers.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := headers.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := headers.Get("Connection"); got != "keep-alive" {
		t.Errorf("Connection = %q", got)
	}
}

func TestSSEChannelFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	ch, err := NewSSEChannel(rec)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Send("message", `{"text":"hi"}`); err != nil {
		t.Fatal(err)
	}
	if err := ch.Send("ping", "keep-alive"); err != nil {
		t.Fatal(err)
	}

	body := rec.Body.String()
	want := "event: message\ndata: {\"text\":\"hi\"}\n\nevent: ping\ndata: keep-alive\n\n"
	if body != want {
		t.Errorf("frame mismatch:\ngot  %q\nwant %q", body, want)
	}
}

func TestSSEChannelSendAfterClose(t *testing.T) {
	rec := httptest.NewRecorder()
	ch, err := NewSSEChannel(rec)
	if err != nil {
		t.Fatal(err)
	}

	ch.Close()
	ch.Close() // safe to repeat

	if err := ch.Send("message", "dropped"); err == nil {
		t.Error("expected error sending on a closed channel")
	}
	if strings.Contains(rec.Body.String(), "dropped") {
		t.Error("frame written after close")
	}

	select {
	case <-ch.Done():
	default:
		t.Error("Done not signalled after Close")
	}
}

// gatedWriter parks the first Write until released, so a test can hold a
// Send mid-write. Writes after markTornDown are counted as invalid: they
// model writing to a response the handler has already returned from.
type gatedWriter struct {
	header   http.Header
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	tornDown atomic.Bool
	late     atomic.Int32
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{
		header:  make(http.Header),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (w *gatedWriter) Header() http.Header { return w.header }

func (w *gatedWriter) Write(p []byte) (int, error) {
	if w.tornDown.Load() {
		w.late.Add(1)
	}
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return len(p), nil
}

func (w *gatedWriter) WriteHeader(int) {}

func (w *gatedWriter) Flush() {
	if w.tornDown.Load() {
		w.late.Add(1)
	}
}

func (w *gatedWriter) markTornDown() { w.tornDown.Store(true) }

func TestSSECloseWaitsForInflightSend(t *testing.T) {
	w := newGatedWriter()
	ch, err := NewSSEChannel(w)
	if err != nil {
		t.Fatal(err)
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- ch.Send("message", "racing") }()

	select {
	case <-w.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("send never reached the writer")
	}

	closeDone := make(chan struct{})
	go func() {
		ch.Close()
		close(closeDone)
	}()

	// The write is still in flight; Close must not return yet.
	select {
	case <-closeDone:
		t.Fatal("Close returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(w.release)
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned after the write finished")
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("in-flight send failed: %v", err)
	}

	// Past this point the serving handler would have returned.
	w.markTornDown()
	if err := ch.Send("message", "too late"); err == nil {
		t.Error("expected error sending after Close")
	}
	if n := w.late.Load(); n != 0 {
		t.Errorf("%d writes reached the response after Close returned", n)
	}
}

func TestRegistryEvictionNeverOutlivesChannel(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				reg.SendIfPresent("u1", "message", "hammer")
			}
		}
	}()

	// Successive registrations evict their predecessor while sends are in
	// flight; an evicted channel must see no write after its Close returns.
	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		ch, err := NewSSEChannel(rec)
		if err != nil {
			t.Fatal(err)
		}
		reg.Register("u1", ch)
	}
	close(stop)
	wg.Wait()
}
