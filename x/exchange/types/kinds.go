package types

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/openpredict/predex/broker"
	"github.com/openpredict/predex/pkg/num"
	"github.com/openpredict/predex/store"
	"github.com/openpredict/predex/x/lmsr"
	markettypes "github.com/openpredict/predex/x/market/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// Kind classifies errors for callers that cannot inspect sentinel values,
// chiefly the HTTP layer. Every error leaving an exchange operation maps to
// exactly one kind.
type Kind string

const (
	KindValidation            Kind = "VALIDATION"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindInsufficientLiquidity Kind = "INSUFFICIENT_LIQUIDITY"
	KindLMSRInsufficient      Kind = "LMSR_INSUFFICIENT"
	KindBrokerUnavailable     Kind = "BROKER_UNAVAILABLE"
	KindPersistenceFailed     Kind = "PERSISTENCE_FAILED"
	KindCancelled             Kind = "CANCELLED"
	KindInternal              Kind = "INTERNAL"
)

// KindOf maps an error to its kind by walking the registered sentinels.
// Unrecognised errors are INTERNAL.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errorsmod.IsOf(err, ErrCancelled):
		return KindCancelled
	case errorsmod.IsOf(err, ErrPersistenceFailed):
		return KindPersistenceFailed
	case errorsmod.IsOf(err, broker.ErrUnavailable):
		return KindBrokerUnavailable
	case errorsmod.IsOf(err, lmsr.ErrInsufficientOutstanding):
		return KindLMSRInsufficient
	case errorsmod.IsOf(err, store.ErrConflict):
		return KindConflict
	case errorsmod.IsOf(err,
		store.ErrNotFound,
		markettypes.ErrMarketNotFound,
		obtypes.ErrOrderNotFound):
		return KindNotFound
	case errorsmod.IsOf(err,
		ErrInvalidInput,
		ErrShuttingDown,
		num.ErrInvalidDecimal,
		num.ErrLogDomain,
		lmsr.ErrInvalidLiquidity,
		lmsr.ErrInvalidQuantities,
		lmsr.ErrInvalidOutcome,
		lmsr.ErrInvalidSize,
		markettypes.ErrMarketNotOpen,
		markettypes.ErrInvalidMarket,
		markettypes.ErrInvalidOutcome,
		markettypes.ErrInvalidPosition,
		markettypes.ErrInvalidStatus,
		obtypes.ErrUnauthorized,
		obtypes.ErrInvalidPrice,
		obtypes.ErrInvalidQuantity,
		obtypes.ErrInvalidSide,
		obtypes.ErrInvalidOrderType,
		obtypes.ErrInvalidStatus,
		obtypes.ErrInvalidOutcomeIndex):
		return KindValidation
	default:
		return KindInternal
	}
}

// KindForReject maps a REJECTED result's reason to a kind. Rejections are
// results rather than errors, so the matching engine never produces a kind
// itself.
func KindForReject(reason string) Kind {
	if reason == obtypes.RejectNoLiquidity {
		return KindInsufficientLiquidity
	}
	return KindValidation
}
