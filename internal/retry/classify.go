package retry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"syscall"

	"basegraph.app/courier/internal/domain"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify maps an error to its failure kind. It is deterministic and has no
// side effects. Explicitly typed errors win over inference; unknown errors are
// transient so they stay bounded by the attempt cap.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var healthErr *HealthError
	if errors.As(err, &healthErr) {
		return KindHealth
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return KindPermanent
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return KindTransient
	}

	// lock contention is retried even when it surfaces through storage
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) {
		return KindTransient
	}

	switch {
	case errors.Is(err, domain.ErrCorruptRecord),
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrLedgerUnavailable):
		return KindHealth
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EDQUOT),
		errors.Is(err, syscall.EROFS):
		return KindHealth
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrContentPolicy),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotFound):
		return KindPermanent
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindPermanent
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		return classifyStatus(coder.HTTPStatus())
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}

func classifyStatus(status int) Kind {
	switch {
	case status == 0:
		return KindTransient
	case status == 408 || status == 425 || status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	}
	return KindTransient
}
