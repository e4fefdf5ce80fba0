package lmsr

import (
	"errors"
	"testing"

	"github.com/openpredict/predex/pkg/num"
)

var tolerance = num.MustNewDecFromStr("0.0000000001") // 1e-10

func dec(t *testing.T, s string) num.Dec {
	t.Helper()
	d, err := num.NewDecFromStr(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func qVec(t *testing.T, ss ...string) []num.Dec {
	t.Helper()
	q := make([]num.Dec, len(ss))
	for i, s := range ss {
		q[i] = dec(t, s)
	}
	return q
}

func assertClose(t *testing.T, got, want num.Dec, what string) {
	t.Helper()
	if diff := got.Sub(want).Abs(); diff.GT(tolerance) {
		t.Fatalf("%s = %s, want %s (diff %s)", what, got, want, diff)
	}
}

func TestPricesSumToOne(t *testing.T) {
	cases := []struct {
		name string
		q    []string
		b    string
	}{
		{"symmetric binary", []string{"0", "0"}, "100"},
		{"skewed binary", []string{"250", "10"}, "100"},
		{"small b", []string{"40", "7"}, "3"},
		{"five outcomes", []string{"0", "15", "3", "90", "22"}, "50"},
		{"large quantities", []string{"100000", "99000", "101000"}, "250"},
	}
	for _, c := range cases {
		q := make([]num.Dec, len(c.q))
		for i, s := range c.q {
			q[i] = dec(t, s)
		}
		prices, err := Prices(q, dec(t, c.b))
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		assertClose(t, num.SumDec(prices), num.OneDec(), c.name+" price sum")
		for i, p := range prices {
			if !p.IsPositive() || p.GTE(num.OneDec()) {
				t.Errorf("%s: price[%d] = %s outside (0,1)", c.name, i, p)
			}
		}
	}
}

func TestBuyMovesPrices(t *testing.T) {
	q := qVec(t, "30", "12", "5")
	b := dec(t, "40")

	before, err := Prices(q, b)
	if err != nil {
		t.Fatal(err)
	}
	quoted, err := QuoteBuy(q, b, 1, dec(t, "8"))
	if err != nil {
		t.Fatal(err)
	}
	after, err := Prices(quoted.QAfter, b)
	if err != nil {
		t.Fatal(err)
	}

	if !after[1].GT(before[1]) {
		t.Errorf("buying outcome 1 did not raise its price: %s -> %s", before[1], after[1])
	}
	for _, j := range []int{0, 2} {
		if !after[j].LT(before[j]) {
			t.Errorf("buying outcome 1 did not lower price[%d]: %s -> %s", j, before[j], after[j])
		}
	}
	if !quoted.TradeCost.IsPositive() {
		t.Errorf("buy cost should be positive, got %s", quoted.TradeCost)
	}
}

func TestSellReturnsMoney(t *testing.T) {
	q := qVec(t, "30", "12")
	b := dec(t, "40")

	quoted, err := QuoteSell(q, b, 0, dec(t, "10"))
	if err != nil {
		t.Fatal(err)
	}
	if !quoted.TradeCost.IsNegative() {
		t.Errorf("sell cost should be negative, got %s", quoted.TradeCost)
	}
	if !quoted.QAfter[0].Equal(dec(t, "20")) {
		t.Errorf("qAfter[0] = %s, want 20", quoted.QAfter[0])
	}
}

func TestSellBeyondOutstanding(t *testing.T) {
	q := qVec(t, "5", "12")
	if _, err := QuoteSell(q, dec(t, "40"), 0, dec(t, "6")); !errors.Is(err, ErrInsufficientOutstanding) {
		t.Fatalf("expected ErrInsufficientOutstanding, got %v", err)
	}
	// Selling everything outstanding is allowed.
	if _, err := QuoteSell(q, dec(t, "40"), 0, dec(t, "5")); err != nil {
		t.Fatalf("selling exactly q_i should succeed: %v", err)
	}
}

func TestPathIndependence(t *testing.T) {
	q := qVec(t, "10", "20", "30")
	b := dec(t, "75")

	// One jump: delta = (12, 0, 9).
	direct, err := ApplyTradeVector(q, qVec(t, "12", "0", "9"))
	if err != nil {
		t.Fatal(err)
	}
	wholeCost, err := TradeCost(q, direct, b)
	if err != nil {
		t.Fatal(err)
	}

	// Same move in three stages.
	stage1, err := ApplyTradeVector(q, qVec(t, "12", "0", "0"))
	if err != nil {
		t.Fatal(err)
	}
	stage2, err := ApplyTradeVector(stage1, qVec(t, "0", "0", "4"))
	if err != nil {
		t.Fatal(err)
	}
	stage3, err := ApplyTradeVector(stage2, qVec(t, "0", "0", "5"))
	if err != nil {
		t.Fatal(err)
	}
	cost1, err := TradeCost(q, stage1, b)
	if err != nil {
		t.Fatal(err)
	}
	cost2, err := TradeCost(stage1, stage2, b)
	if err != nil {
		t.Fatal(err)
	}
	cost3, err := TradeCost(stage2, stage3, b)
	if err != nil {
		t.Fatal(err)
	}

	staged := cost1.Add(cost2).Add(cost3)
	assertClose(t, staged, wholeCost, "staged cost")
}

func TestLargerLiquidityFlattens(t *testing.T) {
	q := qVec(t, "0", "0")
	size := dec(t, "10")

	shallow, err := QuoteBuy(q, dec(t, "50"), 0, size)
	if err != nil {
		t.Fatal(err)
	}
	deep, err := QuoteBuy(q, dec(t, "500"), 0, size)
	if err != nil {
		t.Fatal(err)
	}

	half := dec(t, "0.5")
	shallowMove := shallow.InstantPrice.Sub(half)
	deepMove := deep.InstantPrice.Sub(half)
	if !deepMove.LT(shallowMove) {
		t.Errorf("larger b should flatten price response: b=50 moved %s, b=500 moved %s",
			shallowMove, deepMove)
	}
}

func TestWorstCaseLoss(t *testing.T) {
	b := dec(t, "100")
	got, err := WorstCaseLoss(b, 2)
	if err != nil {
		t.Fatal(err)
	}
	ln2, err := num.NewDec(2).Ln()
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, b.Mul(ln2), "worstCaseLoss(100, 2)")

	if _, err := WorstCaseLoss(dec(t, "0"), 2); !errors.Is(err, ErrInvalidLiquidity) {
		t.Errorf("expected ErrInvalidLiquidity for b=0, got %v", err)
	}
	if _, err := WorstCaseLoss(b, 1); !errors.Is(err, ErrInvalidQuantities) {
		t.Errorf("expected ErrInvalidQuantities for n=1, got %v", err)
	}
}

// Initial symmetric market: q = [0, 0], b = 100. Prices start at 0.5 each;
// buying 10 of outcome 0 costs 100*ln((e^0.1 + 1)/2) and tilts both prices.
func TestInitialSymmetricBuy(t *testing.T) {
	q := qVec(t, "0", "0")
	b := dec(t, "100")

	prices, err := Prices(q, b)
	if err != nil {
		t.Fatal(err)
	}
	half := dec(t, "0.5")
	assertClose(t, prices[0], half, "initial price[0]")
	assertClose(t, prices[1], half, "initial price[1]")
	assertClose(t, num.SumDec(prices), num.OneDec(), "initial sum")

	quoted, err := QuoteBuy(q, b, 0, dec(t, "10"))
	if err != nil {
		t.Fatal(err)
	}
	if !quoted.QAfter[0].Equal(dec(t, "10")) || !quoted.QAfter[1].IsZero() {
		t.Fatalf("qAfter = [%s, %s], want [10, 0]", quoted.QAfter[0], quoted.QAfter[1])
	}
	if !quoted.InstantPrice.GT(half) {
		t.Errorf("price of bought outcome should exceed 0.5, got %s", quoted.InstantPrice)
	}
	after, err := Prices(quoted.QAfter, b)
	if err != nil {
		t.Fatal(err)
	}
	if !after[1].LT(half) {
		t.Errorf("price of other outcome should drop below 0.5, got %s", after[1])
	}

	// Closed form: 100 * ln((e^0.1 + 1) / 2), evaluated with the same
	// decimal primitives.
	e01 := dec(t, "0.1").Exp()
	lnArg := e01.Add(num.OneDec()).Quo(num.NewDec(2))
	lnVal, err := lnArg.Ln()
	if err != nil {
		t.Fatal(err)
	}
	want := b.Mul(lnVal)
	assertClose(t, quoted.TradeCost, want, "trade cost")

	// And the cost identity C(q') - C(q).
	costBefore, err := Cost(q, b)
	if err != nil {
		t.Fatal(err)
	}
	costAfter, err := Cost(quoted.QAfter, b)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, quoted.TradeCost, costAfter.Sub(costBefore), "cost identity")
}

func TestValidation(t *testing.T) {
	if _, err := Prices(nil, dec(t, "10")); !errors.Is(err, ErrInvalidQuantities) {
		t.Errorf("empty q: got %v", err)
	}
	if _, err := Prices(qVec(t, "1", "2"), dec(t, "-1")); !errors.Is(err, ErrInvalidLiquidity) {
		t.Errorf("negative b: got %v", err)
	}
	if _, err := QuoteBuy(qVec(t, "1", "2"), dec(t, "10"), 5, dec(t, "1")); !errors.Is(err, ErrInvalidOutcome) {
		t.Errorf("bad outcome: got %v", err)
	}
	if _, err := QuoteBuy(qVec(t, "1", "2"), dec(t, "10"), 0, dec(t, "0")); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("zero size: got %v", err)
	}
	if _, err := ApplyTradeVector(qVec(t, "1", "2"), qVec(t, "1")); !errors.Is(err, ErrInvalidQuantities) {
		t.Errorf("length mismatch: got %v", err)
	}
}
