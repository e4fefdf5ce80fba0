package types

import errorsmod "cosmossdk.io/errors"

var (
	// ErrInvalidInput signals a submission payload that cannot be turned
	// into an order at all (missing market, unknown side or type).
	ErrInvalidInput = errorsmod.Register("exchange", 2, "invalid order input")
	// ErrCancelled signals a submission whose context ended while it was
	// still queued for its turn; the book was not touched.
	ErrCancelled = errorsmod.Register("exchange", 3, "submission cancelled before matching")
	// ErrPersistenceFailed signals a settlement job that exhausted its
	// retry budget.
	ErrPersistenceFailed = errorsmod.Register("exchange", 4, "persistence failed")
	// ErrShuttingDown signals a submission received after drain began.
	ErrShuttingDown = errorsmod.Register("exchange", 5, "exchange shutting down")
)
