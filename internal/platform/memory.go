package platform

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"basegraph.app/courier/internal/domain"
)

// Memory is an in-process platform. It backs the dry-run mode and tests.
type Memory struct {
	name   domain.Platform
	maxLen int

	mu           sync.Mutex
	feed         []domain.Event
	threads      map[string]domain.ThreadGraph
	threadErrs   map[string]error
	postFailures []error
	posts        []PostRequest
	nextPost     int
	fetchErr     error
}

func NewMemory(name domain.Platform, maxPostLength int) *Memory {
	return &Memory{
		name:       name,
		maxLen:     maxPostLength,
		threads:    map[string]domain.ThreadGraph{},
		threadErrs: map[string]error{},
	}
}

func (m *Memory) Name() domain.Platform { return m.name }

func (m *Memory) MaxPostLength() int { return m.maxLen }

// AddEvents appends events to the feed returned by FetchNew.
func (m *Memory) AddEvents(events ...domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feed = append(m.feed, events...)
}

func (m *Memory) SetThread(eventID string, graph domain.ThreadGraph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[eventID] = graph
}

func (m *Memory) FailThread(eventID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadErrs[eventID] = err
}

// FailPosts scripts the next len(errs) posts in order. A nil entry lets that
// post succeed.
func (m *Memory) FailPosts(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postFailures = append(m.postFailures, errs...)
}

func (m *Memory) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Posts returns every successful post in order.
func (m *Memory) Posts() []PostRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PostRequest(nil), m.posts...)
}

// FetchNew treats the cursor as an offset into the feed.
func (m *Memory) FetchNew(_ context.Context, cursor string) ([]domain.Event, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetchErr != nil {
		return nil, cursor, m.fetchErr
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, cursor, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		offset = n
	}
	if offset > len(m.feed) {
		offset = len(m.feed)
	}

	events := append([]domain.Event(nil), m.feed[offset:]...)
	return events, strconv.Itoa(len(m.feed)), nil
}

func (m *Memory) FetchThread(_ context.Context, eventID string) (domain.ThreadGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.threadErrs[eventID]; err != nil {
		return domain.ThreadGraph{}, err
	}
	if graph, ok := m.threads[eventID]; ok {
		return graph, nil
	}
	for _, ev := range m.feed {
		if ev.ID == eventID {
			return domain.ThreadGraph{
				RootID: ev.ID,
				Messages: map[string]domain.Message{ev.ID: {
					ID:           ev.ID,
					AuthorHandle: ev.AuthorHandle,
					Text:         ev.Text,
					CreatedAt:    ev.CreatedAt,
				}},
			}, nil
		}
	}
	return domain.ThreadGraph{}, &Error{Platform: m.name, Op: "fetch thread", Status: http.StatusNotFound}
}

func (m *Memory) Post(_ context.Context, req PostRequest) (PostResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.postFailures) > 0 {
		err := m.postFailures[0]
		m.postFailures = m.postFailures[1:]
		if err != nil {
			return PostResult{}, err
		}
	}

	m.nextPost++
	m.posts = append(m.posts, req)
	return PostResult{ID: "post-" + strconv.Itoa(m.nextPost), CreatedAt: time.Now().UTC()}, nil
}
