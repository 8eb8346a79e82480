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

// ConnectionStore is a JSON-file-backed connection store. The core reads it
// only inside the connection-reminder workflow; mutation belongs to the
// connections collaborator.
type ConnectionStore struct {
	root string
	mu   sync.RWMutex
}

// NewConnectionStore creates a new file-backed ConnectionStore rooted at the given directory.
func NewConnectionStore(root string) *ConnectionStore {
	return &ConnectionStore{root: root}
}

func (s *ConnectionStore) path() string {
	return filepath.Join(s.root, "connections.json")
}

func (s *ConnectionStore) load() (map[types.ConnectionID]*types.Connection, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConnectionID]*types.Connection), nil
		}
		return nil, fmt.Errorf("read connections file: %w", err)
	}

	var conns []*types.Connection
	if err := json.Unmarshal(data, &conns); err != nil {
		return nil, fmt.Errorf("unmarshal connections: %w", err)
	}

	index := make(map[types.ConnectionID]*types.Connection, len(conns))
	for _, conn := range conns {
		index[conn.ID] = conn
	}
	return index, nil
}

func (s *ConnectionStore) save(index map[types.ConnectionID]*types.Connection) error {
	conns := make([]*types.Connection, 0, len(index))
	for _, conn := range index {
		conns = append(conns, conn)
	}

	data, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal connections: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp connections file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp connections file: %w", err)
	}
	return nil
}

// FindByID returns the connection with the given id.
func (s *ConnectionStore) FindByID(_ context.Context, id types.ConnectionID) (*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	conn, ok := index[id]
	if !ok {
		return nil, types.NotFound("connection", string(id))
	}
	return conn, nil
}

// Upsert creates or replaces the connection record by id.
func (s *ConnectionStore) Upsert(_ context.Context, conn *types.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	index[conn.ID] = conn
	return s.save(index)
}
