package domain

import "time"

// Message is one stripped-down entry of a conversation.
type Message struct {
	ID           string    `json:"id" yaml:"id"`
	ParentID     string    `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
	AuthorHandle string    `json:"authorHandle" yaml:"author"`
	Text         string    `json:"text" yaml:"text"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at"`
}

// ThreadGraph is what a platform returns for a conversation: every message it
// could fetch plus the ids it knows about but could not retrieve.
type ThreadGraph struct {
	RootID   string
	Messages map[string]Message
	Missing  []string
}

// ThreadContext is the bounded, temporally filtered conversation handed to the
// reasoning service. It is rebuilt on every attempt and never persisted except
// in audit entries.
type ThreadContext struct {
	RootEvent          Event     `json:"rootEvent"`
	OrderedMessages    []Message `json:"orderedMessages"`
	ParticipantHandles []string  `json:"participantHandles"`
	Gaps               []string  `json:"gaps,omitempty"`
	Truncated          bool      `json:"truncated,omitempty"`
	StopRequested      bool      `json:"stopRequested,omitempty"`
}
