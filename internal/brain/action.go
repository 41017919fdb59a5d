package brain

import (
	"encoding/json"
	"fmt"

	"basegraph.app/courier/internal/domain"
)

// ParseActionData unmarshals the signal's Data field into the specified type.
func ParseActionData[T any](action domain.ActionSignal) (T, error) {
	var data T
	if err := json.Unmarshal(action.Data, &data); err != nil {
		return data, fmt.Errorf("parsing %s data: %w", action.Type, err)
	}
	return data, nil
}

// NewSignal builds an ActionSignal from a typed payload.
func NewSignal(t domain.ActionType, data any) (domain.ActionSignal, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return domain.ActionSignal{}, fmt.Errorf("encoding %s data: %w", t, err)
	}
	return domain.ActionSignal{Type: t, Data: raw}, nil
}

type ReplyAction struct {
	Text string `json:"text"`
}

type PostAction struct {
	Text string `json:"text"`
}

// IgnoreCategory groups the reasons the reasoner chose not to respond.
type IgnoreCategory string

const (
	IgnoreCategorySpam       IgnoreCategory = "spam"
	IgnoreCategoryBot        IgnoreCategory = "bot"
	IgnoreCategoryNotAddress IgnoreCategory = "not_addressed"
	IgnoreCategoryHandled    IgnoreCategory = "already_handled"
	IgnoreCategoryOther      IgnoreCategory = "other"
)

type IgnoreAction struct {
	Reason   string         `json:"reason"`
	Category IgnoreCategory `json:"category,omitempty"`
}

// SetNoteAction stores a short piece of memory for later conversations on
// the same platform.
type SetNoteAction struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
