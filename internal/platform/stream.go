package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"basegraph.app/courier/common/id"
	"basegraph.app/courier/internal/domain"
)

const (
	maxThreadWalk     = 100
	maxThreadMessages = 500
)

type StreamConfig struct {
	Name          string
	InboxStream   string
	OutboxStream  string
	BatchSize     int64
	Block         time.Duration
	MaxPostLength int
	SelfHandle    string
}

// InboundMessage is what producers append to the inbox stream.
type InboundMessage struct {
	ID           string           `json:"id"`
	Kind         domain.EventKind `json:"kind"`
	AuthorHandle string           `json:"authorHandle"`
	Text         string           `json:"text"`
	ParentID     string           `json:"parentId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("id is required")
	}
	if m.Kind == "" {
		return errors.New("kind is required")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("createdAt is required")
	}
	return nil
}

// Stream is a Redis-backed platform. Producers append messages to an inbox
// stream; the stream id is the fetch cursor. Every message is also kept in a
// hash with a per-parent child index so threads can be rebuilt, and
// published replies go to an outbox stream for delivery.
type Stream struct {
	client *redis.Client
	cfg    StreamConfig
}

func NewStream(client *redis.Client, cfg StreamConfig) *Stream {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	return &Stream{client: client, cfg: cfg}
}

func (s *Stream) Name() domain.Platform { return domain.Platform(s.cfg.Name) }

func (s *Stream) MaxPostLength() int { return s.cfg.MaxPostLength }

func (s *Stream) messagesKey() string { return s.cfg.InboxStream + ":messages" }

func (s *Stream) childrenKey(parent string) string {
	return s.cfg.InboxStream + ":children:" + parent
}

// Publish stores msg and appends it to the inbox. Used by the ingest API.
func (s *Stream) Publish(ctx context.Context, msg InboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", &Error{Platform: s.Name(), Op: "publish", Status: http.StatusBadRequest, Err: err}
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}
	if err := s.store(ctx, msg.ID, msg.ParentID, payload); err != nil {
		return "", err
	}

	streamID, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.InboxStream,
		Values: map[string]any{"message": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("appending to inbox: %w", err)
	}
	return streamID, nil
}

func (s *Stream) FetchNew(ctx context.Context, cursor string) ([]domain.Event, string, error) {
	start := cursor
	if start == "" {
		start = "0"
	}
	block := s.cfg.Block
	if block <= 0 {
		block = -1
	}

	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.cfg.InboxStream, start},
		Count:   s.cfg.BatchSize,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("reading inbox: %w", err)
	}

	next := cursor
	var events []domain.Event
	for _, stream := range res {
		for _, xm := range stream.Messages {
			next = xm.ID
			raw, _ := xm.Values["message"].(string)
			var msg InboundMessage
			if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.Validate() != nil {
				// skip malformed entries; the cursor still moves past them
				continue
			}
			ev := domain.Event{
				ID:           msg.ID,
				Platform:     s.Name(),
				Kind:         msg.Kind,
				AuthorHandle: msg.AuthorHandle,
				Text:         msg.Text,
				CreatedAt:    msg.CreatedAt.UTC(),
			}
			if msg.ParentID != "" {
				parent := msg.ParentID
				ev.ThreadRef = &parent
			}
			events = append(events, ev)
		}
	}
	return events, next, nil
}

func (s *Stream) FetchThread(ctx context.Context, eventID string) (domain.ThreadGraph, error) {
	graph := domain.ThreadGraph{Messages: map[string]domain.Message{}}

	trigger, ok, err := s.load(ctx, eventID)
	if err != nil {
		return graph, err
	}
	if !ok {
		return graph, &Error{Platform: s.Name(), Op: "fetch thread", Status: http.StatusNotFound,
			Err: fmt.Errorf("message %s: %w", eventID, domain.ErrNotFound)}
	}
	graph.Messages[trigger.ID] = trigger
	graph.RootID = trigger.ID

	cur := trigger
	for i := 0; cur.ParentID != "" && i < maxThreadWalk; i++ {
		if _, seen := graph.Messages[cur.ParentID]; seen {
			break
		}
		parent, ok, err := s.load(ctx, cur.ParentID)
		if err != nil {
			return graph, err
		}
		if !ok {
			graph.Missing = append(graph.Missing, cur.ParentID)
			break
		}
		graph.Messages[parent.ID] = parent
		graph.RootID = parent.ID
		cur = parent
	}

	queue := []string{graph.RootID}
	expanded := map[string]bool{}
	for len(queue) > 0 && len(graph.Messages) < maxThreadMessages {
		parent := queue[0]
		queue = queue[1:]
		if expanded[parent] {
			continue
		}
		expanded[parent] = true

		children, err := s.client.SMembers(ctx, s.childrenKey(parent)).Result()
		if err != nil {
			return graph, fmt.Errorf("listing replies of %s: %w", parent, err)
		}
		for _, child := range children {
			if _, seen := graph.Messages[child]; seen {
				queue = append(queue, child)
				continue
			}
			msg, ok, err := s.load(ctx, child)
			if err != nil {
				return graph, err
			}
			if !ok {
				graph.Missing = append(graph.Missing, child)
				continue
			}
			graph.Messages[child] = msg
			queue = append(queue, child)
		}
	}

	return graph, nil
}

func (s *Stream) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	if limit := s.cfg.MaxPostLength; limit > 0 && utf8.RuneCountInString(req.Text) > limit {
		return PostResult{}, &Error{Platform: s.Name(), Op: "post", Status: http.StatusRequestEntityTooLarge,
			Err: fmt.Errorf("post of %d characters exceeds limit %d", utf8.RuneCountInString(req.Text), limit)}
	}

	parent := req.ReplyTo
	if parent == "" {
		parent = req.ThreadRef
	}
	msg := InboundMessage{
		ID:           "out-" + id.NewString(),
		Kind:         domain.EventKindReply,
		AuthorHandle: s.cfg.SelfHandle,
		Text:         req.Text,
		ParentID:     parent,
		CreatedAt:    time.Now().UTC(),
	}
	if parent == "" {
		msg.Kind = domain.EventKindMention
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return PostResult{}, fmt.Errorf("encoding post: %w", err)
	}
	if err := s.store(ctx, msg.ID, msg.ParentID, payload); err != nil {
		return PostResult{}, err
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.OutboxStream,
		Values: map[string]any{"message": string(payload), "reply_to": req.ReplyTo},
	}).Err(); err != nil {
		return PostResult{}, fmt.Errorf("appending to outbox: %w", err)
	}

	return PostResult{ID: msg.ID, CreatedAt: msg.CreatedAt}, nil
}

func (s *Stream) store(ctx context.Context, msgID, parentID string, payload []byte) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.messagesKey(), msgID, string(payload))
	if parentID != "" {
		pipe.SAdd(ctx, s.childrenKey(parentID), msgID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing message %s: %w", msgID, err)
	}
	return nil
}

func (s *Stream) load(ctx context.Context, msgID string) (domain.Message, bool, error) {
	raw, err := s.client.HGet(ctx, s.messagesKey(), msgID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("loading message %s: %w", msgID, err)
	}

	var msg InboundMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return domain.Message{}, false, nil
	}
	return domain.Message{
		ID:           msg.ID,
		ParentID:     msg.ParentID,
		AuthorHandle: msg.AuthorHandle,
		Text:         msg.Text,
		CreatedAt:    msg.CreatedAt.UTC(),
	}, true, nil
}
