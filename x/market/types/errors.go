package types

import errorsmod "cosmossdk.io/errors"

const codespace = "market"

var (
	ErrMarketNotFound  = errorsmod.Register(codespace, 2, "market not found")
	ErrMarketNotOpen   = errorsmod.Register(codespace, 3, "market not open for trading")
	ErrInvalidMarket   = errorsmod.Register(codespace, 4, "invalid market")
	ErrInvalidOutcome  = errorsmod.Register(codespace, 5, "invalid outcome index")
	ErrInvalidPosition = errorsmod.Register(codespace, 6, "invalid position")
	ErrInvalidStatus   = errorsmod.Register(codespace, 7, "invalid status transition")
)
