package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/types"
)

// StoryDeletePayload carries the id of the story to expire.
type StoryDeletePayload struct {
	StoryID string `json:"storyId"`
}

// ValidateStoryDelete checks the schema for story-delete events.
func ValidateStoryDelete(payload json.RawMessage) error {
	var p StoryDeletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.Validationf("decode story delete payload: %v", err)
	}
	if p.StoryID == "" {
		return types.Validationf("story delete payload: missing storyId")
	}
	return nil
}

// StoryCleanup deletes a story 24 hours after publication.
type StoryCleanup struct {
	stories types.StoryStore
}

// NewStoryCleanup creates the story expiry workflow.
func NewStoryCleanup(stories types.StoryStore) *StoryCleanup {
	return &StoryCleanup{stories: stories}
}

// Steps returns the ordered step sequence.
func (h *StoryCleanup) Steps() []engine.Step {
	return []engine.Step{
		{Name: "wait-for-24-hours", Fn: func(sc *engine.StepContext) (any, error) {
			return nil, engine.SuspendUntil(sc.Now.Add(reminderDelay))
		}},
		{Name: "delete-story", Fn: func(sc *engine.StepContext) (any, error) {
			var p StoryDeletePayload
			if err := sc.BindPayload(&p); err != nil {
				return nil, err
			}
			// Delete-if-exists: an already-deleted story is a success.
			if err := h.stories.Delete(sc.Ctx, types.StoryID(p.StoryID)); err != nil {
				return nil, types.Transient(fmt.Errorf("delete story %s: %w", p.StoryID, err))
			}
			return map[string]string{"story_id": p.StoryID}, nil
		}},
	}
}
