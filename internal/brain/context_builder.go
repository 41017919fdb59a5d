package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"basegraph.app/courier/internal/botfilter"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/platform"
	"basegraph.app/courier/internal/retry"
)

const (
	defaultMaxDepth = 40
	defaultMaxChars = 12000
)

// ContextConfig bounds the context handed to the reasoner.
type ContextConfig struct {
	MaxDepth    int
	MaxChars    int
	StopCommand string
}

// ContextBuilder turns a queued event into a bounded, temporally consistent
// ThreadContext.
type ContextBuilder struct {
	maxDepth    int
	maxChars    int
	stopCommand string
}

func NewContextBuilder(cfg ContextConfig) *ContextBuilder {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	return &ContextBuilder{
		maxDepth:    cfg.MaxDepth,
		maxChars:    cfg.MaxChars,
		stopCommand: strings.ToLower(strings.TrimSpace(cfg.StopCommand)),
	}
}

// Build fetches the event's thread and assembles its context.
//
// A trigger the platform reports as not found is returned as the platform
// error. A transient fetch failure is returned for retry. Any other fetch
// failure degrades to a trigger-only context. Whenever the context is
// incomplete the context is returned together with a *retry.ContextError.
func (b *ContextBuilder) Build(ctx context.Context, event domain.Event, client platform.Client) (domain.ThreadContext, error) {
	graph, err := client.FetchThread(ctx, event.ID)
	if err != nil {
		if platform.IsNotFound(err) || retry.Classify(err) == retry.KindTransient {
			return domain.ThreadContext{}, fmt.Errorf("fetching thread: %w", err)
		}
		slog.WarnContext(ctx, "thread fetch failed, using trigger only",
			"event_id", event.ID,
			"error", err)
		tc := b.assemble(event, domain.ThreadGraph{RootID: event.ID})
		tc.Gaps = append(tc.Gaps, "thread_fetch_failed")
		return tc, &retry.ContextError{Gaps: tc.Gaps, Err: err}
	}

	tc := b.assemble(event, graph)
	if len(tc.Gaps) > 0 {
		return tc, &retry.ContextError{Gaps: tc.Gaps}
	}
	return tc, nil
}

type contextMessage struct {
	domain.Message
	onPath bool
}

func (b *ContextBuilder) assemble(event domain.Event, graph domain.ThreadGraph) domain.ThreadContext {
	cutoff := event.CreatedAt
	trigger, ok := graph.Messages[event.ID]
	if !ok {
		trigger = domain.Message{ID: event.ID, AuthorHandle: event.AuthorHandle, Text: event.Text, CreatedAt: event.CreatedAt}
	}
	// the trigger is pinned to the event's own timestamp
	trigger.CreatedAt = cutoff

	var gaps []string
	seenGap := map[string]bool{}
	addGap := func(id string) {
		if id != "" && !seenGap[id] {
			seenGap[id] = true
			gaps = append(gaps, id)
		}
	}
	for _, id := range graph.Missing {
		addGap(id)
	}

	// root→trigger path, walked upward from the trigger
	path := map[string]bool{trigger.ID: true}
	for parent := trigger.ParentID; parent != "" && !path[parent]; {
		msg, ok := graph.Messages[parent]
		if !ok {
			addGap(parent)
			break
		}
		path[parent] = true
		parent = msg.ParentID
	}

	var msgs []contextMessage
	var stop bool
	for id, msg := range graph.Messages {
		if id == trigger.ID || msg.CreatedAt.After(cutoff) {
			continue
		}
		msg = normalizeMessage(msg)
		stop = stop || b.containsStop(msg.Text)
		msgs = append(msgs, contextMessage{Message: msg, onPath: path[id]})
	}
	trigger = normalizeMessage(trigger)
	stop = stop || b.containsStop(trigger.Text) || b.containsStop(event.Text)

	sortMessages(msgs)
	kept, truncated := b.truncate(msgs, trigger)

	ordered := make([]domain.Message, 0, len(kept))
	handles := map[string]struct{}{}
	for _, m := range kept {
		ordered = append(ordered, m.Message)
		if m.AuthorHandle != "" {
			handles[m.AuthorHandle] = struct{}{}
		}
	}
	participants := make([]string, 0, len(handles))
	for h := range handles {
		participants = append(participants, h)
	}
	sort.Strings(participants)

	return domain.ThreadContext{
		RootEvent:          event,
		OrderedMessages:    ordered,
		ParticipantHandles: participants,
		Gaps:               gaps,
		Truncated:          truncated,
		StopRequested:      stop,
	}
}

// truncate applies the depth and character budgets. Off-path messages go
// first, oldest first; then path ancestors from the root down. The trigger
// is never dropped, only shortened when it alone exceeds the budget.
func (b *ContextBuilder) truncate(msgs []contextMessage, trigger domain.Message) ([]contextMessage, bool) {
	all := append(msgs, contextMessage{Message: trigger, onPath: true})

	size := func(ms []contextMessage) (n int) {
		for _, m := range ms {
			n += utf8.RuneCountInString(m.Text)
		}
		return n
	}
	over := func(ms []contextMessage) bool {
		return len(ms) > b.maxDepth || size(ms) > b.maxChars
	}

	truncated := false
	for _, onPath := range []bool{false, true} {
		for over(all) {
			idx := -1
			for i, m := range all[:len(all)-1] {
				if m.onPath == onPath {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			all = append(all[:idx], all[idx+1:]...)
			truncated = true
		}
	}

	last := &all[len(all)-1]
	if utf8.RuneCountInString(last.Text) > b.maxChars {
		last.Text = string([]rune(last.Text)[:b.maxChars])
		truncated = true
	}
	return all, truncated
}

func (b *ContextBuilder) containsStop(text string) bool {
	return b.stopCommand != "" && strings.Contains(strings.ToLower(text), b.stopCommand)
}

func normalizeMessage(m domain.Message) domain.Message {
	m.AuthorHandle = botfilter.NormalizeHandle(m.AuthorHandle)
	m.Text = strings.TrimSpace(strings.ReplaceAll(m.Text, "\r\n", "\n"))
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

func sortMessages(msgs []contextMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
