package ledger

import "errors"

var (
	ErrInvalidPoints       = errors.New("ledger: points must be positive")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrAccountInactive     = errors.New("ledger: account inactive")
	ErrConflict            = errors.New("ledger: concurrency conflict")
)
