package num

import (
	"encoding/json"
	"testing"
)

func TestNewDecFromStr(t *testing.T) {
	valid := []string{"0", "1", "-1", "+1", "0.5", "-42.000000000000000001", "100.123456789012345678"}
	for _, s := range valid {
		if _, err := NewDecFromStr(s); err != nil {
			t.Errorf("NewDecFromStr(%q) unexpected error: %v", s, err)
		}
	}

	invalid := []string{"", "abc", "1e5", "1.2.3", ".5", "5.", "0x10", "1,000", "NaN", "0.1234567890123456789"}
	for _, s := range invalid {
		if _, err := NewDecFromStr(s); err == nil {
			t.Errorf("NewDecFromStr(%q) expected error, got none", s)
		}
	}
}

func TestRoundBankHalfEven(t *testing.T) {
	cases := []struct {
		in     string
		places int32
		want   string
	}{
		{"2.5", 0, "2"},
		{"3.5", 0, "4"},
		{"-2.5", 0, "-2"},
		{"2.25", 1, "2.2"},
		{"2.35", 1, "2.4"},
		{"2.451", 1, "2.5"},
	}
	for _, c := range cases {
		got := MustNewDecFromStr(c.in).RoundBank(c.places)
		if got.String() != c.want {
			t.Errorf("RoundBank(%s, %d) = %s, want %s", c.in, c.places, got, c.want)
		}
	}
}

func TestQuoGuardDigits(t *testing.T) {
	third := NewDec(1).Quo(NewDec(3))
	want := "0.333333333333333333"
	if third.StringFixed(Precision) != want {
		t.Fatalf("1/3 = %s, want %s", third.StringFixed(Precision), want)
	}

	// 2/3 must round the 19th digit up, not truncate.
	twoThirds := NewDec(2).Quo(NewDec(3))
	want = "0.666666666666666667"
	if twoThirds.StringFixed(Precision) != want {
		t.Fatalf("2/3 = %s, want %s", twoThirds.StringFixed(Precision), want)
	}
}

func TestMulRounding(t *testing.T) {
	// 1.5 * 1.5 stays exact.
	got := MustNewDecFromStr("1.5").Mul(MustNewDecFromStr("1.5"))
	if !got.Equal(MustNewDecFromStr("2.25")) {
		t.Errorf("1.5*1.5 = %s, want 2.25", got)
	}

	// Products beyond 18 fractional digits are rounded, not carried.
	a := MustNewDecFromStr("0.000000001000000001")
	b := MustNewDecFromStr("0.000000001000000001")
	if prod := a.Mul(b); prod.StringFixed(Precision) != "0.000000000000000001" {
		t.Errorf("tiny product = %s", prod.StringFixed(Precision))
	}
}

func TestExpLn(t *testing.T) {
	one := OneDec()
	e := one.Exp()
	if e.StringFixed(6) != "2.718282" {
		t.Fatalf("exp(1) = %s", e.StringFixed(6))
	}

	back, err := e.Ln()
	if err != nil {
		t.Fatalf("ln(exp(1)): %v", err)
	}
	if diff := back.Sub(one).Abs(); diff.GT(MustNewDecFromStr("0.0000000001")) {
		t.Fatalf("ln(exp(1)) = %s, drift %s", back, diff)
	}

	if ZeroDec().Exp().Equal(OneDec()) == false {
		t.Errorf("exp(0) = %s, want 1", ZeroDec().Exp())
	}

	if _, err := ZeroDec().Ln(); err == nil {
		t.Errorf("ln(0) expected domain error")
	}
	if _, err := NewDec(-3).Ln(); err == nil {
		t.Errorf("ln(-3) expected domain error")
	}
}

func TestCompareHelpers(t *testing.T) {
	a, b := NewDec(1), NewDec(2)
	if !a.LT(b) || !b.GT(a) || !a.LTE(a) || !b.GTE(b) {
		t.Fatal("comparison helpers disagree")
	}
	if !MinDec(a, b).Equal(a) || !MaxDec(a, b).Equal(b) {
		t.Fatal("MinDec/MaxDec disagree")
	}
	if NewDec(-5).IsNegative() != true || NewDec(5).IsPositive() != true || ZeroDec().IsZero() != true {
		t.Fatal("sign helpers disagree")
	}
}

func TestSumDec(t *testing.T) {
	xs := []Dec{NewDec(1), MustNewDecFromStr("2.5"), MustNewDecFromStr("-0.5")}
	if got := SumDec(xs); !got.Equal(NewDec(3)) {
		t.Errorf("SumDec = %s, want 3", got)
	}
	if !SumDec(nil).IsZero() {
		t.Errorf("SumDec(nil) should be zero")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	in := MustNewDecFromStr("123.456")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"123.456000000000000000"` {
		t.Fatalf("marshal = %s", data)
	}

	var out Dec
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip %s != %s", out, in)
	}

	var bad Dec
	if err := json.Unmarshal([]byte(`"1e99"`), &bad); err == nil {
		t.Fatal("expected error for exponent notation")
	}
}
