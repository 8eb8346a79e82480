package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/user/linkup/internal/bus"
	"github.com/user/linkup/internal/push"
	"github.com/user/linkup/internal/types"
)

// Server is the HTTP surface of the event/push core: the SSE endpoint, the
// webhook ingress, and the message-send path.
//
// Every response uses the envelope {success, message?, ...}; callers treat
// success:false as the sole error signal. Status codes are set properly but
// are advisory.
type Server struct {
	bus        *bus.Bus
	registry   *push.Registry
	dispatcher *push.Dispatcher
	runs       types.RunStore
	messages   types.MessageStore
	mux        *http.ServeMux
}

// NewServer creates the HTTP server over the given collaborators.
func NewServer(b *bus.Bus, registry *push.Registry, dispatcher *push.Dispatcher, runs types.RunStore, messages types.MessageStore) *Server {
	s := &Server{
		bus:        b,
		registry:   registry,
		dispatcher: dispatcher,
		runs:       runs,
		messages:   messages,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/message/sse/{userID}", s.handleSSE)
	s.mux.HandleFunc("POST /api/message/send", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/message/chat", s.handleChatMessages)
	s.mux.HandleFunc("POST /webhook/clerk", s.handleClerkWebhook)
	s.mux.HandleFunc("POST /webhook/app/connection-request", s.handleConnectionRequest)
	s.mux.HandleFunc("POST /webhook/app/story-delete", s.handleStoryDelete)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// handleSSE registers a push channel for the user and holds the response
// open until the client disconnects or the registry evicts the channel.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	userID := types.UserID(r.PathValue("userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	ch, err := push.NewSSEChannel(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	handle := s.registry.Register(userID, ch)
	if err := ch.Send("log", fmt.Sprintf("Connected to SSE stream for user %s", userID)); err != nil {
		s.registry.UnregisterHandle(userID, handle)
		return
	}

	select {
	case <-r.Context().Done():
		s.registry.UnregisterHandle(userID, handle)
	case <-ch.Done():
		// Evicted by a newer channel or dropped after a write failure.
	}
}

type sendMessageRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Text       string `json:"text"`
	MediaURL   string `json:"media_url"`
}

// handleSendMessage persists the message, then pushes it to the recipient
// if connected. Push failures never fail the request: persistence
// succeeding is the only thing the caller needs.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "from_user_id and to_user_id are required")
		return
	}

	msg := &types.Message{
		ID:         types.NewMessageID(),
		FromUserID: types.UserID(req.FromUserID),
		ToUserID:   types.UserID(req.ToUserID),
		Text:       req.Text,
		MediaURL:   req.MediaURL,
		CreatedAt:  time.Now(),
	}
	if err := s.messages.Create(r.Context(), msg); err != nil {
		slog.Error("persist message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	delivered := s.dispatcher.OnMessageCreated(msg)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   msg,
		"delivered": delivered,
	})
}

type chatMessagesRequest struct {
	UserID   string `json:"user_id"`
	ToUserID string `json:"to_user_id"`
}

// handleChatMessages returns the conversation between two users, newest
// first, and marks the other side's messages as seen.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	var req chatMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" || req.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "user_id and to_user_id are required")
		return
	}

	a, b := types.UserID(req.UserID), types.UserID(req.ToUserID)
	msgs, err := s.messages.ListConversation(r.Context(), a, b)
	if err != nil {
		slog.Error("list conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if err := s.messages.MarkConversationSeen(r.Context(), b, a); err != nil {
		slog.Warn("mark conversation seen failed", "error", err)
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

// clerkEnvelope is the identity-provider webhook body: an event type plus
// the raw data object.
type clerkEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var clerkKinds = map[string]string{
	"user.created": types.KindUserCreated,
	"user.updated": types.KindUserUpdated,
	"user.deleted": types.KindUserDeleted,
}

// handleClerkWebhook maps identity-provider events onto the bus, keyed by
// the source user id so re-delivery dedups.
func (s *Server) handleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	var env clerkEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	kind, ok := clerkKinds[env.Type]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported webhook type: %s", env.Type))
		return
	}

	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &ref); err != nil || ref.ID == "" {
		writeError(w, http.StatusBadRequest, "webhook data missing id")
		return
	}

	s.publish(w, r, &types.DomainEvent{
		Kind:           kind,
		IdempotencyKey: ref.ID,
		Payload:        env.Data,
	})
}

func (s *Server) handleConnectionRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connectionId is required")
		return
	}

	payload, _ := json.Marshal(req)
	s.publish(w, r, &types.DomainEvent{
		Kind:           types.KindConnectionRequest,
		IdempotencyKey: req.ConnectionID,
		Payload:        payload,
	})
}

func (s *Server) handleStoryDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoryID string `json:"storyId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StoryID == "" {
		writeError(w, http.StatusBadRequest, "storyId is required")
		return
	}

	payload, _ := json.Marshal(req)
	s.publish(w, r, &types.DomainEvent{
		Kind:           types.KindStoryDelete,
		IdempotencyKey: req.StoryID,
		Payload:        payload,
	})
}

// publish puts the event on the bus and answers with the envelope. A
// validation failure is the producer's fault; anything past Publish is
// fire-and-forget.
func (s *Server) publish(w http.ResponseWriter, r *http.Request, event *types.DomainEvent) {
	if err := s.bus.Publish(r.Context(), event); err != nil {
		if types.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("publish event failed", "kind", event.Kind, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context())
	if err != nil {
		slog.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": runs})
}
