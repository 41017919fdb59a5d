package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Platform names the source platform of an event (e.g. "gitlab", "bluesky").
type Platform string

// EventKind is the semantic type of a platform notification.
type EventKind string

const (
	EventKindMention EventKind = "mention"
	EventKindReply   EventKind = "reply"
	EventKindQuote   EventKind = "quote"
	EventKindDM      EventKind = "dm"
	EventKindLike    EventKind = "like"
	EventKindRepost  EventKind = "repost"
	EventKindFollow  EventKind = "follow"
)

// Actionable reports whether events of this kind may warrant a response.
// Likes, reposts and follows are dropped at ingest.
func (k EventKind) Actionable() bool {
	switch k {
	case EventKindMention, EventKindReply, EventKindQuote, EventKindDM:
		return true
	}
	return false
}

// Event is a single platform-originated notification. Immutable once created.
type Event struct {
	ID           string    `json:"id"`
	Platform     Platform  `json:"platform"`
	Kind         EventKind `json:"kind"`
	AuthorHandle string    `json:"authorHandle"`
	Text         string    `json:"text"`
	ThreadRef    *string   `json:"threadRef,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Priority     bool      `json:"priority"`
}

// StorageKey derives the stable record key for an event: the first 16 bytes of
// sha256(id|createdAt) in hex. The same event fetched twice maps to the same key.
func StorageKey(e Event) string {
	sum := sha256.Sum256([]byte(e.ID + "|" + e.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:16])
}
