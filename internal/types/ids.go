package types

import (
	"github.com/google/uuid"
)

type UserID string
type RunID string
type EventID string
type MessageID string
type ConnectionID string
type StoryID string
type ChannelHandle string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewChannelHandle() ChannelHandle {
	return ChannelHandle(uuid.New().String())
}
