package lmsr

import errorsmod "cosmossdk.io/errors"

var (
	// ErrInvalidLiquidity signals a non-positive liquidity parameter b.
	ErrInvalidLiquidity = errorsmod.Register("lmsr", 2, "liquidity parameter must be positive")
	// ErrInvalidQuantities signals an empty or mismatched quantity vector.
	ErrInvalidQuantities = errorsmod.Register("lmsr", 3, "invalid outcome quantities")
	// ErrInvalidOutcome signals an outcome index outside [0, len(q)).
	ErrInvalidOutcome = errorsmod.Register("lmsr", 4, "outcome index out of range")
	// ErrInvalidSize signals a non-positive trade size.
	ErrInvalidSize = errorsmod.Register("lmsr", 5, "trade size must be positive")
	// ErrInsufficientOutstanding signals a sell larger than the outstanding
	// quantity of that outcome.
	ErrInsufficientOutstanding = errorsmod.Register("lmsr", 6, "insufficient outstanding quantity")
)
