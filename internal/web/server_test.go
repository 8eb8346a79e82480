package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/linkup/internal/bus"
	"github.com/user/linkup/internal/push"
	"github.com/user/linkup/internal/state"
	"github.com/user/linkup/internal/types"
)

type serverFixture struct {
	server   *Server
	bus      *bus.Bus
	registry *push.Registry
	messages *state.MessageStore
	runs     *state.RunStore
	received map[string]*int32
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	dir := t.TempDir()

	b := bus.New(nil)
	b.Start(context.Background())
	t.Cleanup(b.Stop)

	received := make(map[string]*int32)
	for _, kind := range []string{
		types.KindUserCreated,
		types.KindUserUpdated,
		types.KindUserDeleted,
		types.KindConnectionRequest,
		types.KindStoryDelete,
	} {
		b.RegisterKind(kind, nil)
		counter := new(int32)
		received[kind] = counter
		b.Subscribe(kind, func(ctx context.Context, event *types.DomainEvent) {
			atomic.AddInt32(counter, 1)
		})
	}

	registry := push.NewRegistry(time.Minute)
	t.Cleanup(registry.CloseAll)
	messages := state.NewMessageStore(dir)
	runs := state.NewRunStore(dir)

	return &serverFixture{
		server:   NewServer(b, registry, push.NewDispatcher(registry), runs, messages),
		bus:      b,
		registry: registry,
		messages: messages,
		runs:     runs,
		received: received,
	}
}

func (f *serverFixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["success"] != true {
		t.Errorf("expected success envelope, got %v", body)
	}
}

func TestSendMessagePersistsBeforePush(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/api/message/send", `{"from_user_id":"alice","to_user_id":"bob","text":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	// Recipient not connected: stored but not delivered.
	if body["delivered"] != false {
		t.Errorf("expected delivered=false, got %v", body["delivered"])
	}

	conv, err := f.messages.ListConversation(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv) != 1 || conv[0].Text != "hi" {
		t.Errorf("message not persisted: %+v", conv)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/api/message/send", `{"text":"no participants"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["success"] != false {
		t.Errorf("expected failure envelope, got %v", body)
	}
}

func TestChatMessagesMarksSeen(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	if err := f.messages.Create(ctx, &types.Message{
		ID: "m1", FromUserID: "bob", ToUserID: "alice", Text: "unread", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.post(t, "/api/message/chat", `{"user_id":"alice","to_user_id":"bob"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %v", body["messages"])
	}

	unseen, err := f.messages.FindUnseen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unseen) != 0 {
		t.Errorf("opening the chat should mark bob's messages seen, %d still unseen", len(unseen))
	}
}

func TestClerkWebhookMapsKinds(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/webhook/clerk", `{"type":"user.created","data":{"id":"user_1","email_addresses":[{"email_address":"a@b.c"}]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(f.received[types.KindUserCreated]) != 1 {
		select {
		case <-deadline:
			t.Fatal("user.created never reached the bus")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClerkWebhookUnsupportedType(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/webhook/clerk", `{"type":"session.created","data":{"id":"x"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestClerkWebhookMissingID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/webhook/clerk", `{"type":"user.created","data":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestConnectionRequestWebhook(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/webhook/app/connection-request", `{"connectionId":"conn-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.post(t, "/webhook/app/connection-request", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing connectionId accepted: %d", rec.Code)
	}
}

func TestStoryDeleteWebhook(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(t, "/webhook/app/story-delete", `{"storyId":"s1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	run := &types.WorkflowRun{
		RunID:          types.NewRunID(),
		Kind:           "app/test",
		IdempotencyKey: "k1",
		State:          types.RunCompleted,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := f.runs.Create(ctx, run); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeEnvelope(t, rec)
	runs, ok := body["runs"].([]any)
	if !ok || len(runs) != 1 {
		t.Errorf("expected 1 run, got %v", body["runs"])
	}
}

func TestSSEStream(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/message/sse/bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "event: log") {
		t.Errorf("expected connect frame, got %q", line)
	}

	// Wait until the registry sees the connection, then push through it.
	deadline := time.After(2 * time.Second)
	for !f.registry.Connected("bob") {
		select {
		case <-deadline:
			t.Fatal("channel never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sendRec := httptest.NewRecorder()
	sendReq := httptest.NewRequest(http.MethodPost, "/api/message/send",
		strings.NewReader(`{"from_user_id":"alice","to_user_id":"bob","text":"live"}`))
	f.server.ServeHTTP(sendRec, sendReq)
	body := decodeEnvelope(t, sendRec)
	if body["delivered"] != true {
		t.Fatalf("expected delivered=true, got %v", body)
	}

	var frame strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		frame.WriteString(line)
		if strings.Contains(frame.String(), "live") {
			break
		}
	}
	if !strings.Contains(frame.String(), "event: message") {
		t.Errorf("pushed frame missing event type: %q", frame.String())
	}
}

func TestSSESecondConnectionEvictsFirst(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	open := func(ctx context.Context) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/message/sse/bob", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	first := open(ctx1)
	defer first.Body.Close()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second := open(ctx2)
	defer second.Body.Close()

	// The first stream ends once the second registration evicts it.
	firstDone := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := first.Body.Read(buf); err != nil {
				close(firstDone)
				return
			}
		}
	}()
	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream still open after replacement connected")
	}

	if !f.registry.Connected("bob") {
		t.Error("replacement channel should remain registered")
	}
}
