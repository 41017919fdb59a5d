package audit

import (
	"context"
	"errors"
	"time"

	"basegraph.app/courier/common/id"
	"basegraph.app/courier/internal/domain"
)

// Entry is the write-once record of how one event left the queue.
type Entry struct {
	ID         string                  `json:"id"`
	EventID    string                  `json:"eventId"`
	Platform   domain.Platform         `json:"platform"`
	Kind       domain.EventKind        `json:"kind"`
	Author     string                  `json:"author"`
	StorageKey string                  `json:"storageKey"`
	Outcome    domain.Outcome          `json:"outcome"`
	Reason     string                  `json:"reason,omitempty"`
	Attempts   int                     `json:"attempts"`
	LastError  *domain.ErrorInfo       `json:"lastError,omitempty"`
	Executed   []domain.ExecutedAction `json:"executed,omitempty"`
	Signals    []domain.ActionSignal   `json:"signals,omitempty"`
	Context    *domain.ThreadContext   `json:"context,omitempty"`
	At         time.Time               `json:"at"`
}

// NewEntry builds an entry for a resolved record. The id is a snowflake, so
// entries sort by creation time.
func NewEntry(rec domain.QueueRecord) Entry {
	e := Entry{
		ID:         id.NewString(),
		EventID:    rec.ID,
		Platform:   rec.Platform,
		Kind:       rec.Kind,
		Author:     rec.AuthorHandle,
		StorageKey: rec.StorageKey,
		Attempts:   rec.Attempts,
		LastError:  rec.LastError,
		Executed:   rec.Executed,
		At:         time.Now().UTC(),
	}
	if rec.Resolution != nil {
		e.Outcome = rec.Resolution.Outcome
		e.Reason = rec.Resolution.Reason
		e.At = rec.Resolution.At
	}
	return e
}

// Sink persists audit entries. Writing the same entry id twice is a no-op.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
