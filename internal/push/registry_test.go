package push

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/linkup/internal/types"
)

// fakeChannel records frames and can be told to start failing writes.
type fakeChannel struct {
	mu     sync.Mutex
	frames []string
	fail   bool
	closed bool
}

func (c *fakeChannel) Send(eventType, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, eventType+":"+data)
	return nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeChannel) breakWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = true
}

func TestSendIfPresentNoChannel(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	if reg.SendIfPresent("nobody", "message", "hello") {
		t.Error("expected no delivery attempt for a user without a channel")
	}
}

func TestSendIfPresentDelivers(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	ch := &fakeChannel{}
	reg.Register("u1", ch)

	if !reg.SendIfPresent("u1", "message", "hello") {
		t.Fatal("expected delivery attempt")
	}
	frames := ch.sent()
	if len(frames) != 1 || frames[0] != "message:hello" {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestSendIfPresentEncodesJSON(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	ch := &fakeChannel{}
	reg.Register("u1", ch)

	reg.SendIfPresent("u1", "message", map[string]string{"text": "hi"})
	frames := ch.sent()
	if len(frames) != 1 || frames[0] != `message:{"text":"hi"}` {
		t.Errorf("unexpected frames: %v", frames)
	}
}

func TestRegisterEvictsPrevious(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	first := &fakeChannel{}
	second := &fakeChannel{}
	reg.Register("u1", first)
	reg.Register("u1", second)

	if !first.isClosed() {
		t.Error("expected first channel to be closed on eviction")
	}
	if second.isClosed() {
		t.Error("replacement channel must stay open")
	}

	reg.SendIfPresent("u1", "message", "after-evict")
	if len(first.sent()) != 0 {
		t.Errorf("evicted channel received frames: %v", first.sent())
	}
	if frames := second.sent(); len(frames) != 1 {
		t.Errorf("expected 1 frame on the new channel, got %v", frames)
	}
}

func TestWriteFailureUnregisters(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	ch := &fakeChannel{}
	reg.Register("u1", ch)
	ch.breakWrites()

	// Attempted even though the write fails; the failure is contained.
	if !reg.SendIfPresent("u1", "message", "doomed") {
		t.Error("expected delivery attempt on a registered channel")
	}
	if reg.Connected("u1") {
		t.Error("expected channel to be unregistered after write failure")
	}
	if !ch.isClosed() {
		t.Error("expected failed channel to be closed")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	reg.Register("u1", &fakeChannel{})
	reg.Unregister("u1")
	reg.Unregister("u1")
	reg.Unregister("never-registered")

	if reg.Connected("u1") {
		t.Error("expected u1 disconnected")
	}
}

func TestUnregisterHandleSkipsReplacement(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	first := &fakeChannel{}
	handle := reg.Register("u1", first)
	second := &fakeChannel{}
	reg.Register("u1", second)

	// A late disconnect of the evicted channel must not tear down the new one.
	reg.UnregisterHandle("u1", handle)
	if !reg.Connected("u1") {
		t.Error("replacement channel was torn down by a stale handle")
	}
}

func TestHeartbeat(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	defer reg.CloseAll()

	ch := &fakeChannel{}
	reg.Register("u1", ch)

	deadline := time.After(2 * time.Second)
	for {
		pings := 0
		for _, f := range ch.sent() {
			if f == "ping:keep-alive" {
				pings++
			}
		}
		if pings >= 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected heartbeat frames, got %v", ch.sent())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHeartbeatFailureDropsChannel(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	defer reg.CloseAll()

	ch := &fakeChannel{}
	reg.Register("u1", ch)
	ch.breakWrites()

	deadline := time.After(2 * time.Second)
	for reg.Connected("u1") {
		select {
		case <-deadline:
			t.Fatal("channel not dropped after heartbeat failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestConcurrentRegisterAndSend(t *testing.T) {
	reg := NewRegistry(time.Minute)
	defer reg.CloseAll()

	userID := types.UserID("u1")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register(userID, &fakeChannel{})
		}()
		go func() {
			defer wg.Done()
			reg.SendIfPresent(userID, "message", "racing")
		}()
	}
	wg.Wait()

	if !reg.Connected(userID) {
		t.Error("expected a channel to remain registered")
	}
}
