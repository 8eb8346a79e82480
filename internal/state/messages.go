package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/linkup/internal/types"
)

// MessageStore is a JSON-file-backed message store. The core only creates
// messages on behalf of the send path and reads them for push delivery and
// the unseen digest.
type MessageStore struct {
	root string
	mu   sync.RWMutex
}

// NewMessageStore creates a new file-backed MessageStore rooted at the given directory.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{root: root}
}

func (s *MessageStore) path() string {
	return filepath.Join(s.root, "messages.json")
}

func (s *MessageStore) load() ([]*types.Message, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read messages file: %w", err)
	}

	var msgs []*types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, nil
}

func (s *MessageStore) save(msgs []*types.Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp messages file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp messages file: %w", err)
	}
	return nil
}

// Create appends a new message.
func (s *MessageStore) Create(_ context.Context, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.load()
	if err != nil {
		return err
	}

	msgs = append(msgs, msg)
	return s.save(msgs)
}

// FindUnseen returns every message with seen == false.
func (s *MessageStore) FindUnseen(_ context.Context) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, err := s.load()
	if err != nil {
		return nil, err
	}

	var unseen []*types.Message
	for _, msg := range msgs {
		if !msg.Seen {
			unseen = append(unseen, msg)
		}
	}
	return unseen, nil
}

// MarkConversationSeen flips seen on all messages from one user to another.
func (s *MessageStore) MarkConversationSeen(_ context.Context, from, to types.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.load()
	if err != nil {
		return err
	}

	changed := false
	for _, msg := range msgs {
		if msg.FromUserID == from && msg.ToUserID == to && !msg.Seen {
			msg.Seen = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(msgs)
}

// ListConversation returns the messages between two users, newest first.
func (s *MessageStore) ListConversation(_ context.Context, a, b types.UserID) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, err := s.load()
	if err != nil {
		return nil, err
	}

	var conv []*types.Message
	for _, msg := range msgs {
		if (msg.FromUserID == a && msg.ToUserID == b) || (msg.FromUserID == b && msg.ToUserID == a) {
			conv = append(conv, msg)
		}
	}
	sort.Slice(conv, func(i, j int) bool {
		return conv[i].CreatedAt.After(conv[j].CreatedAt)
	})
	return conv, nil
}
