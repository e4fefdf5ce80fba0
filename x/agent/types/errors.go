package types

import (
	errorsmod "cosmossdk.io/errors"
)

const codespace = "agent"

var (
	ErrInvalidJob      = errorsmod.Register(codespace, 2, "invalid agent job")
	ErrInvalidDecision = errorsmod.Register(codespace, 3, "invalid agent decision")
)
