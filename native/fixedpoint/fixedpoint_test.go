package fixedpoint

import (
	"math/big"
	"testing"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big integer literal %q", s)
	}
	return v
}

func TestScaleIdentities(t *testing.T) {
	if got := Mul(Wad, Ray); got.Cmp(Rad) != 0 {
		t.Fatalf("wad*ray != rad, got %s", got)
	}
	if got := WadToRay(Wad); got.Cmp(Ray) != 0 {
		t.Fatalf("wad lifted to ray mismatch: %s", got)
	}
	if got := DivRay(Rad, Ray); got.Cmp(Wad) != 0 {
		t.Fatalf("rad/ray != wad, got %s", got)
	}
}

func TestRayMulTruncates(t *testing.T) {
	third := bigFromString(t, "333333333333333333333333333") // ~1/3 ray
	got := RayMul(third, third)
	want := bigFromString(t, "111111111111111111111111110")
	if got.Cmp(want) != 0 {
		t.Fatalf("raymul truncation mismatch: got %s want %s", got, want)
	}
}

func TestTruncationTowardZeroForNegatives(t *testing.T) {
	// -7/2 must be -3, not -4: signed deltas round toward zero on both sides.
	x := big.NewInt(-7)
	got := new(big.Int).Quo(new(big.Int).Mul(x, Ray), big.NewInt(2))
	got.Quo(got, Ray)
	if got.Cmp(big.NewInt(-3)) != 0 {
		t.Fatalf("expected -3, got %s", got)
	}
	neg := new(big.Int).Neg(Wad)
	if got := BpsMul(neg, 3333); got.Cmp(bigFromString(t, "-333300000000000000")) != 0 {
		t.Fatalf("negative bps mul mismatch: %s", got)
	}
}

func TestBpsRoundTrip(t *testing.T) {
	seized := bigFromString(t, "512500000000000000") // 0.5125 wad
	fee := BpsMul(seized, 100)
	if fee.Cmp(bigFromString(t, "5125000000000000")) != 0 {
		t.Fatalf("treasury fee mismatch: %s", fee)
	}
	value := BpsMul(bigFromString(t, "500000000000000000"), 10250)
	if value.Cmp(seized) != 0 {
		t.Fatalf("incentive value mismatch: %s", value)
	}
	if back := BpsDiv(seized, 10250); back.Cmp(bigFromString(t, "500000000000000000")) != 0 {
		t.Fatalf("bps div mismatch: %s", back)
	}
}

func TestRPow(t *testing.T) {
	if got := RPow(Ray, 0); got.Cmp(Ray) != 0 {
		t.Fatalf("x^0 != ray: %s", got)
	}
	two := new(big.Int).Mul(Ray, big.NewInt(2))
	if got := RPow(two, 10); got.Cmp(new(big.Int).Mul(Ray, big.NewInt(1024))) != 0 {
		t.Fatalf("2^10 != 1024: %s", got)
	}
	rate := bigFromString(t, "1000000005781378656804591713") // ~20% APR per second
	if got := RPow(rate, 1); got.Cmp(rate) != 0 {
		t.Fatalf("x^1 != x: %s", got)
	}
}

func TestRPowCompoundingAssociativity(t *testing.T) {
	rate := bigFromString(t, "1000000003022265980097387650") // ~10% APR per second
	split := RayMul(RPow(rate, 86400), RPow(rate, 86400))
	whole := RPow(rate, 172800)
	diff := new(big.Int).Sub(split, whole)
	if diff.CmpAbs(big.NewInt(1000)) > 0 {
		t.Fatalf("compounding not associative within rounding: diff %s", diff)
	}
}
