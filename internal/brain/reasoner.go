package brain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"basegraph.app/courier/common/llm"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/retry"
)

const decisionSchemaName = "submit_decision"

// Reasoner decides what to do about a notification.
type Reasoner interface {
	Decide(ctx context.Context, tc domain.ThreadContext) ([]domain.ActionSignal, error)
}

// NoteReader lists the notes kept for a platform.
type NoteReader interface {
	Notes(ctx context.Context, p domain.Platform) (map[string]string, error)
}

type decision struct {
	Reasoning string           `json:"reasoning" jsonschema:"description=Short private reasoning for the decision"`
	Actions   []decisionAction `json:"actions" jsonschema:"description=Actions to take in order"`
}

// decisionAction is flat so the schema stays valid in strict mode: every
// field is present and unused ones are empty strings.
type decisionAction struct {
	Type     string `json:"type" jsonschema:"enum=reply,enum=post,enum=ignore,enum=set_note"`
	Text     string `json:"text" jsonschema:"description=Text for reply or post"`
	Reason   string `json:"reason" jsonschema:"description=Why the notification is ignored"`
	Category string `json:"category" jsonschema:"description=Ignore category: spam, bot, not_addressed, already_handled or other"`
	Key      string `json:"key" jsonschema:"description=Note key for set_note"`
	Value    string `json:"value" jsonschema:"description=Note value for set_note"`
}

type ReasonerConfig struct {
	SelfHandle string
	MaxTokens  int
	Timeout    time.Duration
}

// LLMReasoner asks an LLM for a schema-constrained decision and validates the
// answer against the same schema before trusting it.
type LLMReasoner struct {
	client    llm.Client
	notes     NoteReader
	cfg       ReasonerConfig
	schema    any
	validator *jsonschema.Schema
}

func NewLLMReasoner(client llm.Client, notes NoteReader, cfg ReasonerConfig) (*LLMReasoner, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	schema := llm.GenerateSchema[decision]()
	validator, err := compileSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("compiling decision schema: %w", err)
	}

	return &LLMReasoner{
		client:    client,
		notes:     notes,
		cfg:       cfg,
		schema:    schema,
		validator: validator,
	}, nil
}

func compileSchema(schema any) (*jsonschema.Schema, error) {
	doc, err := llm.SchemaDocument(schema)
	if err != nil {
		return nil, err
	}
	// the generated schema names a remote $schema draft; drop it so the
	// compiler does not try to load it
	delete(doc, "$schema")
	delete(doc, "$id")

	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("decision.json")
}

func (r *LLMReasoner) Decide(ctx context.Context, tc domain.ThreadContext) ([]domain.ActionSignal, error) {
	var notes map[string]string
	if r.notes != nil {
		n, err := r.notes.Notes(ctx, tc.RootEvent.Platform)
		if err != nil {
			slog.WarnContext(ctx, "loading notes failed, deciding without them", "error", err)
		} else {
			notes = n
		}
	}

	thread, err := RenderThread(tc, notes)
	if err != nil {
		return nil, retry.NewPermanentError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var out decision
	resp, err := r.client.Structured(ctx, llm.Request{
		SystemPrompt: r.systemPrompt(),
		UserPrompt:   thread,
		UserName:     tc.RootEvent.AuthorHandle,
		SchemaName:   decisionSchemaName,
		Schema:       r.schema,
		MaxTokens:    r.cfg.MaxTokens,
		Temperature:  llm.Temp(0.2),
	}, &out)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, retry.NewTransientError(fmt.Errorf("reasoner timed out after %s: %w", r.cfg.Timeout, err))
		}
		if llm.IsRetryable(ctx, err) {
			return nil, retry.NewTransientError(fmt.Errorf("reasoner: %w", err))
		}
		return nil, retry.NewPermanentError(fmt.Errorf("reasoner: %w", err))
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(resp.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding decision: %w", domain.ErrInvalidAction, err)
	}
	if err := r.validator.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: decision does not match schema: %w", domain.ErrInvalidAction, err)
	}

	slog.InfoContext(ctx, "reasoner decided",
		"event_id", tc.RootEvent.ID,
		"actions", len(out.Actions),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens)

	return toSignals(out.Actions)
}

func toSignals(actions []decisionAction) ([]domain.ActionSignal, error) {
	signals := make([]domain.ActionSignal, 0, len(actions))
	for i, a := range actions {
		var (
			sig domain.ActionSignal
			err error
		)
		switch t := domain.ActionType(a.Type); t {
		case domain.ActionTypeReply:
			sig, err = NewSignal(t, ReplyAction{Text: a.Text})
		case domain.ActionTypePost:
			sig, err = NewSignal(t, PostAction{Text: a.Text})
		case domain.ActionTypeIgnore:
			sig, err = NewSignal(t, IgnoreAction{Reason: a.Reason, Category: IgnoreCategory(a.Category)})
		case domain.ActionTypeSetNote:
			sig, err = NewSignal(t, SetNoteAction{Key: a.Key, Value: a.Value})
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownActionType, a.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: action[%d]: %w", domain.ErrInvalidAction, i, err)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

func (r *LLMReasoner) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You handle notifications addressed to ")
	if r.cfg.SelfHandle != "" {
		sb.WriteString("@" + r.cfg.SelfHandle)
	} else {
		sb.WriteString("this account")
	}
	sb.WriteString(".\n\n")
	sb.WriteString(`The user message is a YAML document: the trigger notification, the conversation
before it in chronological order, the participants, ids that could not be fetched
and notes you saved earlier.

Decide with the submit_decision schema:
- reply: answer the trigger directly. Keep it short and self-contained.
- post: publish a new top-level message in the same thread.
- ignore: do nothing. Give a reason and one category: spam, bot, not_addressed, already_handled, other.
- set_note: remember a short fact for later conversations (key, value).

Never combine ignore with reply or post. Leave fields that do not apply to an action empty.
Do not wrap replies in quotes.`)
	return sb.String()
}
