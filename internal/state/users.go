package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/linkup/internal/types"
)

// UserStore is a JSON-file-backed user store with upsert semantics, since
// identity-provider events are delivered at least once.
type UserStore struct {
	root string
	mu   sync.RWMutex
}

// NewUserStore creates a new file-backed UserStore rooted at the given directory.
func NewUserStore(root string) *UserStore {
	return &UserStore{root: root}
}

func (s *UserStore) path() string {
	return filepath.Join(s.root, "users.json")
}

func (s *UserStore) load() (map[types.UserID]*types.User, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.UserID]*types.User), nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var users []*types.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}

	index := make(map[types.UserID]*types.User, len(users))
	for _, user := range users {
		index[user.ID] = user
	}
	return index, nil
}

func (s *UserStore) save(index map[types.UserID]*types.User) error {
	users := make([]*types.User, 0, len(index))
	for _, user := range index {
		users = append(users, user)
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp users file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp users file: %w", err)
	}
	return nil
}

// FindByID returns the user with the given id.
func (s *UserStore) FindByID(_ context.Context, id types.UserID) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	user, ok := index[id]
	if !ok {
		return nil, types.NotFound("user", string(id))
	}
	return user, nil
}

// FindByUsername returns the user holding the given username.
func (s *UserStore) FindByUsername(_ context.Context, username string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, user := range index {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, types.NotFound("user", username)
}

// Upsert creates or replaces the user record by id.
func (s *UserStore) Upsert(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	index[user.ID] = user
	return s.save(index)
}

// Delete removes the user by id; deleting an absent user is a no-op.
func (s *UserStore) Delete(_ context.Context, id types.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	return s.save(index)
}
