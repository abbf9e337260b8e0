package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotReady        = errors.New("pair quotes not ready")
	ErrStaleQuote      = errors.New("quote is stale")
	ErrDuplicateFill   = errors.New("fill already applied")
	ErrRateLimited     = errors.New("rate limited")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
	ErrUnknownExposure = errors.New("venue order state could not be reconciled")
)
