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

// StoryStore is a JSON-file-backed story store. Stories are removed by the
// story-delete workflow 24 hours after publication.
type StoryStore struct {
	root string
	mu   sync.RWMutex
}

// NewStoryStore creates a new file-backed StoryStore rooted at the given directory.
func NewStoryStore(root string) *StoryStore {
	return &StoryStore{root: root}
}

func (s *StoryStore) path() string {
	return filepath.Join(s.root, "stories.json")
}

func (s *StoryStore) load() (map[types.StoryID]*types.Story, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.StoryID]*types.Story), nil
		}
		return nil, fmt.Errorf("read stories file: %w", err)
	}

	var stories []*types.Story
	if err := json.Unmarshal(data, &stories); err != nil {
		return nil, fmt.Errorf("unmarshal stories: %w", err)
	}

	index := make(map[types.StoryID]*types.Story, len(stories))
	for _, story := range stories {
		index[story.ID] = story
	}
	return index, nil
}

func (s *StoryStore) save(index map[types.StoryID]*types.Story) error {
	stories := make([]*types.Story, 0, len(index))
	for _, story := range index {
		stories = append(stories, story)
	}

	data, err := json.MarshalIndent(stories, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stories: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path()), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp stories file: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp stories file: %w", err)
	}
	return nil
}

// FindByID returns the story with the given id.
func (s *StoryStore) FindByID(_ context.Context, id types.StoryID) (*types.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}

	story, ok := index[id]
	if !ok {
		return nil, types.NotFound("story", string(id))
	}
	return story, nil
}

// Upsert creates or replaces the story record by id.
func (s *StoryStore) Upsert(_ context.Context, story *types.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}

	index[story.ID] = story
	return s.save(index)
}

// Delete removes the story by id. Deleting an already-deleted story is a
// no-op success.
func (s *StoryStore) Delete(_ context.Context, id types.StoryID) error {
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
