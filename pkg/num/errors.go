package num

import errorsmod "cosmossdk.io/errors"

var (
	// ErrInvalidDecimal signals a malformed or out-of-precision decimal string.
	ErrInvalidDecimal = errorsmod.Register("num", 2, "invalid decimal")
	// ErrLogDomain signals ln(x) for x <= 0.
	ErrLogDomain = errorsmod.Register("num", 3, "logarithm of non-positive value")
)
