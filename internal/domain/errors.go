package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyQueued      = errors.New("event already queued")
	ErrCorruptRecord      = errors.New("corrupt queue record")
	ErrStorageUnavailable = errors.New("queue storage unavailable")
	ErrLedgerUnavailable  = errors.New("dedup ledger unavailable")
	ErrInvalidAction      = errors.New("invalid action signal")
	ErrContentPolicy      = errors.New("content policy violation")
	ErrUnauthorized       = errors.New("platform authentication failed")
)
