package domain

import "encoding/json"

// ActionType is the kind of instruction returned by the reasoning service.
type ActionType string

const (
	ActionTypeReply   ActionType = "reply"
	ActionTypePost    ActionType = "post"
	ActionTypeIgnore  ActionType = "ignore"
	ActionTypeSetNote ActionType = "set_note"
)

// ActionSignal is a typed instruction from the reasoning service. Data holds
// the type-specific payload.
type ActionSignal struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Publishes reports whether executing the signal creates content on the platform.
func (a ActionSignal) Publishes() bool {
	return a.Type == ActionTypeReply || a.Type == ActionTypePost
}
