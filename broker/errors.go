package broker

import errorsmod "cosmossdk.io/errors"

const codespace = "broker"

// ErrUnavailable wraps every transport failure surfaced by this package so
// callers can classify broker outages without inspecting redis error strings.
var ErrUnavailable = errorsmod.Register(codespace, 2, "broker unavailable")
