package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrSessionExpired        = errors.New("session expired")
	ErrKYCRequired           = errors.New("kyc approval required")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrExecutionInProgress   = errors.New("execution already in progress")
	ErrSourceDisabled        = errors.New("scrape source disabled")
	ErrContextDone           = errors.New("context cancelled")
	ErrLockHeld              = errors.New("lock already held")
)
