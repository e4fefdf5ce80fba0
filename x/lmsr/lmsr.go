// Package lmsr implements the Logarithmic Market Scoring Rule used to quote
// prediction-market depth. All functions are pure and stateless over a
// quantity vector q (net long minus short collateral per outcome) and a
// liquidity parameter b > 0. The cost function is always evaluated in the
// max-shifted log-sum-exp form so realistic q never overflow exp.
package lmsr

import (
	"github.com/openpredict/predex/pkg/num"
)

// Quote is the result of pricing a single-outcome buy or sell.
type Quote struct {
	// QAfter is the quantity vector after applying the trade.
	QAfter []num.Dec
	// InstantPrice is the marginal price of the traded outcome at QAfter.
	InstantPrice num.Dec
	// TradeCost is C(qAfter) - C(q): positive for buys, negative for sells.
	TradeCost num.Dec
}

func validate(q []num.Dec, b num.Dec) error {
	if len(q) == 0 {
		return ErrInvalidQuantities.Wrap("empty vector")
	}
	if !b.IsPositive() {
		return ErrInvalidLiquidity.Wrapf("b = %s", b)
	}
	return nil
}

// shiftedExps returns exp((q_i - max(q)) / b) for every i together with the
// maximum. Every exponent is <= 0, so each term lies in (0, 1].
func shiftedExps(q []num.Dec, b num.Dec) ([]num.Dec, num.Dec) {
	m := q[0]
	for _, qi := range q[1:] {
		m = num.MaxDec(m, qi)
	}
	exps := make([]num.Dec, len(q))
	for i, qi := range q {
		exps[i] = qi.Sub(m).Quo(b).Exp()
	}
	return exps, m
}

// Cost returns C(q, b) = b * ln(sum_i exp(q_i / b)), computed as
// m + b * ln(sum_i exp((q_i - m) / b)) with m = max(q_i).
func Cost(q []num.Dec, b num.Dec) (num.Dec, error) {
	if err := validate(q, b); err != nil {
		return num.Dec{}, err
	}
	exps, m := shiftedExps(q, b)
	lnSum, err := num.SumDec(exps).Ln()
	if err != nil {
		// The sum includes exp(0) = 1, so it is always >= 1.
		return num.Dec{}, ErrInvalidQuantities.Wrap(err.Error())
	}
	return m.Add(b.Mul(lnSum)), nil
}

// Prices returns the marginal price of every outcome,
// p_i = exp(q_i/b) / sum_j exp(q_j/b), evaluated with the same max shift as
// Cost. The shift cancels in the ratio, so the prices sum to one by
// construction.
func Prices(q []num.Dec, b num.Dec) ([]num.Dec, error) {
	if err := validate(q, b); err != nil {
		return nil, err
	}
	exps, _ := shiftedExps(q, b)
	denom := num.SumDec(exps)
	prices := make([]num.Dec, len(q))
	for i, e := range exps {
		prices[i] = e.Quo(denom)
	}
	return prices, nil
}

// Price returns the marginal price of a single outcome.
func Price(q []num.Dec, b num.Dec, outcome int) (num.Dec, error) {
	prices, err := Prices(q, b)
	if err != nil {
		return num.Dec{}, err
	}
	if outcome < 0 || outcome >= len(prices) {
		return num.Dec{}, ErrInvalidOutcome.Wrapf("outcome %d of %d", outcome, len(prices))
	}
	return prices[outcome], nil
}

// ApplyTradeVector returns q' = q + delta. It fails when the vectors differ
// in length or any resulting quantity would turn negative.
func ApplyTradeVector(q, delta []num.Dec) ([]num.Dec, error) {
	if len(q) == 0 || len(q) != len(delta) {
		return nil, ErrInvalidQuantities.Wrapf("len(q)=%d len(delta)=%d", len(q), len(delta))
	}
	after := make([]num.Dec, len(q))
	for i := range q {
		after[i] = q[i].Add(delta[i])
		if after[i].IsNegative() {
			return nil, ErrInsufficientOutstanding.Wrapf(
				"outcome %d: %s + %s < 0", i, q[i], delta[i])
		}
	}
	return after, nil
}

// TradeCost returns C(qAfter, b) - C(q, b). Buys (positive delta) cost the
// trader money; sells return it.
func TradeCost(q, qAfter []num.Dec, b num.Dec) (num.Dec, error) {
	if len(q) != len(qAfter) {
		return num.Dec{}, ErrInvalidQuantities.Wrapf("len(q)=%d len(qAfter)=%d", len(q), len(qAfter))
	}
	before, err := Cost(q, b)
	if err != nil {
		return num.Dec{}, err
	}
	after, err := Cost(qAfter, b)
	if err != nil {
		return num.Dec{}, err
	}
	return after.Sub(before), nil
}

// QuoteBuy prices buying size units of the given outcome.
func QuoteBuy(q []num.Dec, b num.Dec, outcome int, size num.Dec) (Quote, error) {
	return quote(q, b, outcome, size)
}

// QuoteSell prices selling size units of the given outcome. It fails with
// ErrInsufficientOutstanding when size exceeds q[outcome].
func QuoteSell(q []num.Dec, b num.Dec, outcome int, size num.Dec) (Quote, error) {
	if size.IsPositive() {
		size = size.Neg()
	}
	return quote(q, b, outcome, size)
}

func quote(q []num.Dec, b num.Dec, outcome int, size num.Dec) (Quote, error) {
	if err := validate(q, b); err != nil {
		return Quote{}, err
	}
	if outcome < 0 || outcome >= len(q) {
		return Quote{}, ErrInvalidOutcome.Wrapf("outcome %d of %d", outcome, len(q))
	}
	if size.IsZero() {
		return Quote{}, ErrInvalidSize.Wrap("size is zero")
	}

	delta := make([]num.Dec, len(q))
	for i := range delta {
		delta[i] = num.ZeroDec()
	}
	delta[outcome] = size

	qAfter, err := ApplyTradeVector(q, delta)
	if err != nil {
		return Quote{}, err
	}
	cost, err := TradeCost(q, qAfter, b)
	if err != nil {
		return Quote{}, err
	}
	price, err := Price(qAfter, b, outcome)
	if err != nil {
		return Quote{}, err
	}
	return Quote{QAfter: qAfter, InstantPrice: price, TradeCost: cost}, nil
}

// WorstCaseLoss returns b * ln(n), the maximum subsidy the market maker can
// lose on a market with n outcomes.
func WorstCaseLoss(b num.Dec, n int) (num.Dec, error) {
	if !b.IsPositive() {
		return num.Dec{}, ErrInvalidLiquidity.Wrapf("b = %s", b)
	}
	if n < 2 {
		return num.Dec{}, ErrInvalidQuantities.Wrapf("n = %d", n)
	}
	lnN, err := num.NewDec(int64(n)).Ln()
	if err != nil {
		return num.Dec{}, err
	}
	return b.Mul(lnN), nil
}
