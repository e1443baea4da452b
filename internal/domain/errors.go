package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")

	// Core invariant violations. These indicate a caller-ordering bug, not a
	// market condition.
	ErrTradeExists       = errors.New("trade already active")
	ErrTradeCooldown     = errors.New("symbol in cooldown")
	ErrNoActiveTrade     = errors.New("no active trade")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrPositionExists    = errors.New("position already open")
	ErrNoOpenPosition    = errors.New("no open position")
	ErrEntryDenied       = errors.New("entry denied")
)
