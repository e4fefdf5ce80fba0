package store

import errorsmod "cosmossdk.io/errors"

const codespace = "store"

var (
	ErrNotFound = errorsmod.Register(codespace, 2, "row not found")
	ErrConflict = errorsmod.Register(codespace, 3, "duplicate id")
	ErrTx       = errorsmod.Register(codespace, 4, "transaction failed")
)
