package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"basegraph.app/courier/internal/domain"
)

// Client is the capability the pipeline uses to talk to one platform. It is
// selected once at startup and passed in.
type Client interface {
	Name() domain.Platform
	// FetchNew returns events after cursor and the cursor to resume from.
	FetchNew(ctx context.Context, cursor string) ([]domain.Event, string, error)
	FetchThread(ctx context.Context, eventID string) (domain.ThreadGraph, error)
	Post(ctx context.Context, req PostRequest) (PostResult, error)
	MaxPostLength() int
}

type PostRequest struct {
	Text string
	// ReplyTo is the message id to reply to; empty for a top-level post.
	ReplyTo string
	// ThreadRef scopes a top-level post on platforms where posts live inside
	// a thread (issues, channels).
	ThreadRef string
}

type PostResult struct {
	ID        string
	CreatedAt time.Time
}

// Error is a platform failure carrying an HTTP-style status for
// classification.
type Error struct {
	Platform domain.Platform
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: status %d", e.Platform, e.Op, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %v", e.Platform, e.Op, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return e.Status }

// NotFound reports whether the platform said the target does not exist.
func (e *Error) NotFound() bool { return e.Status == http.StatusNotFound }

// IsNotFound reports whether err is a platform not-found failure.
func IsNotFound(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.NotFound()
}
