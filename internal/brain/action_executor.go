package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
)

// Journal persists a claimed record. The queue store implements it.
type Journal interface {
	Update(ctx context.Context, rec domain.QueueRecord) error
}

// NoteStore keeps reasoner notes per platform.
type NoteStore interface {
	SetNote(ctx context.Context, p domain.Platform, key, value string) error
}

// ExecutionResult is how the executed decision resolves the record.
type ExecutionResult struct {
	Outcome domain.Outcome
	Reason  string
}

// ActionExecutor runs validated signals against the platform. Each action
// that reaches the platform is journaled into the record and persisted before
// the next one runs, so a retried attempt skips what already happened.
type ActionExecutor struct {
	client  platform.Client
	journal Journal
	notes   NoteStore
	now     func() time.Time
}

func NewActionExecutor(client platform.Client, journal Journal, notes NoteStore) *ActionExecutor {
	return &ActionExecutor{
		client:  client,
		journal: journal,
		notes:   notes,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *ActionExecutor) Execute(ctx context.Context, rec *domain.QueueRecord, signals []domain.ActionSignal) (ExecutionResult, error) {
	var ignore *IgnoreAction

	for i, action := range signals {
		if rec.HasExecuted(i) {
			slog.DebugContext(ctx, "skipping journaled action", "index", i, "type", action.Type)
			continue
		}

		var (
			postID string
			err    error
		)
		switch action.Type {
		case domain.ActionTypeReply:
			postID, err = e.executeReply(ctx, rec, action)
		case domain.ActionTypePost:
			postID, err = e.executePost(ctx, rec, action)
		case domain.ActionTypeSetNote:
			err = e.executeSetNote(ctx, rec, action)
		case domain.ActionTypeIgnore:
			data, perr := ParseActionData[IgnoreAction](action)
			if perr != nil {
				return ExecutionResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidAction, perr)
			}
			ignore = &data
			continue
		default:
			return ExecutionResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidAction, action.Type)
		}
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("action[%d] %s: %w", i, action.Type, err)
		}

		rec.Executed = append(rec.Executed, domain.ExecutedAction{
			Index:  i,
			Type:   action.Type,
			PostID: postID,
			At:     e.now(),
		})
		if err := e.journal.Update(ctx, *rec); err != nil {
			return ExecutionResult{}, fmt.Errorf("journaling action[%d]: %w", i, err)
		}
	}

	switch {
	case rec.Posted():
		return ExecutionResult{Outcome: domain.OutcomeSuccess}, nil
	case ignore != nil:
		return ExecutionResult{Outcome: domain.OutcomeNoReply, Reason: IgnoreReason(*ignore)}, nil
	default:
		return ExecutionResult{Outcome: domain.OutcomeNoReply, Reason: "no_publish_action"}, nil
	}
}

// IgnoreReason formats an ignore decision for the record resolution.
func IgnoreReason(a IgnoreAction) string {
	category := a.Category
	if category == "" {
		category = IgnoreCategoryOther
	}
	return fmt.Sprintf("ignored:%s: %s", category, strings.TrimSpace(a.Reason))
}

func (e *ActionExecutor) executeReply(ctx context.Context, rec *domain.QueueRecord, action domain.ActionSignal) (string, error) {
	data, err := ParseActionData[ReplyAction](action)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
	}
	return e.publish(ctx, rec, data.Text, rec.ID)
}

func (e *ActionExecutor) executePost(ctx context.Context, rec *domain.QueueRecord, action domain.ActionSignal) (string, error) {
	data, err := ParseActionData[PostAction](action)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
	}
	return e.publish(ctx, rec, data.Text, "")
}

func (e *ActionExecutor) publish(ctx context.Context, rec *domain.QueueRecord, text, replyTo string) (string, error) {
	text, stripped := SanitizePostText(text)
	if stripped {
		slog.DebugContext(ctx, "stripped wrapping quotes from post", "event_id", rec.ID)
	}
	if limit := e.client.MaxPostLength(); limit > 0 && len([]rune(text)) > limit {
		return "", fmt.Errorf("%w: post over %d characters", domain.ErrInvalidAction, limit)
	}

	req := platform.PostRequest{Text: text, ReplyTo: replyTo}
	if rec.ThreadRef != nil {
		req.ThreadRef = *rec.ThreadRef
	}

	slog.InfoContext(ctx, "publishing",
		"event_id", rec.ID,
		"reply_to", replyTo,
		"content_length", len(text))

	res, err := e.client.Post(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish",
			"event_id", rec.ID,
			"reply_to", replyTo,
			"error", err)
		return "", err
	}
	return res.ID, nil
}

func (e *ActionExecutor) executeSetNote(ctx context.Context, rec *domain.QueueRecord, action domain.ActionSignal) error {
	data, err := ParseActionData[SetNoteAction](action)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
	}
	if e.notes == nil {
		slog.WarnContext(ctx, "no note store configured, dropping note", "key", data.Key)
		return nil
	}
	if err := e.notes.SetNote(ctx, rec.Platform, strings.TrimSpace(data.Key), data.Value); err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}
