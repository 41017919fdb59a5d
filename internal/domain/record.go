package domain

import "time"

// State is the storage state of a queue record.
type State string

const (
	StatePending    State = "pending"
	StateInFlight   State = "in_flight"
	StateErrors     State = "errors"
	StateNoReply    State = "no_reply"
	StateQuarantine State = "quarantine"
)

// Terminal reports whether records in this state have left the pipeline.
func (s State) Terminal() bool {
	return s == StateErrors || s == StateNoReply
}

// Outcome is how a record was resolved.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeNoReply Outcome = "no_reply"
)

// State returns the terminal state an outcome lands in. Success has none:
// the record is deleted.
func (o Outcome) State() (State, bool) {
	switch o {
	case OutcomeError:
		return StateErrors, true
	case OutcomeNoReply:
		return StateNoReply, true
	}
	return "", false
}

// ErrorInfo is the last failure recorded against a queue record.
type ErrorInfo struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ExecutedAction journals an action that reached the platform, so a retried
// attempt never repeats it. Index points into the record's Decision.
type ExecutedAction struct {
	Index  int        `json:"index"`
	Type   ActionType `json:"type"`
	PostID string     `json:"postId,omitempty"`
	At     time.Time  `json:"at"`
}

// Resolution is written into the in-flight record before the ledger entry,
// so recovery can finish an interrupted resolution without re-running it.
type Resolution struct {
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// QueueRecord is the durable unit of the queue store. One record exists per
// event while it is unresolved.
type QueueRecord struct {
	Event
	State         State            `json:"state"`
	Attempts      int              `json:"attempts"`
	LastError     *ErrorInfo       `json:"lastError,omitempty"`
	FirstQueuedAt time.Time        `json:"firstQueuedAt"`
	LastAttemptAt *time.Time       `json:"lastAttemptAt,omitempty"`
	NotBefore     *time.Time       `json:"notBefore,omitempty"`
	StorageKey    string           `json:"storageKey"`
	Decision      []ActionSignal   `json:"decision,omitempty"`
	Executed      []ExecutedAction `json:"executed,omitempty"`
	Resolution    *Resolution      `json:"resolution,omitempty"`

	// ClaimedBy is the owner segment of the in-flight file name. Not persisted
	// in the record body: the claim lives in the file name.
	ClaimedBy string `json:"-"`
}

// HasExecuted reports whether the action at index already reached the platform.
func (r QueueRecord) HasExecuted(index int) bool {
	for _, a := range r.Executed {
		if a.Index == index {
			return true
		}
	}
	return false
}

// Posted reports whether any reply or post was executed for this record.
func (r QueueRecord) Posted() bool {
	for _, a := range r.Executed {
		if (ActionSignal{Type: a.Type}).Publishes() {
			return true
		}
	}
	return false
}
