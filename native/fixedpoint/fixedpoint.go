// Package fixedpoint implements the exact integer arithmetic used by the
// stablecoin accounting core. Three precision tiers are in play: Wad (1e18)
// for token amounts, Ray (1e27) for accumulated rates and prices, and Rad
// (1e45, Wad times Ray) for monetary debt values. All helpers operate on
// *big.Int and never touch floating point.
package fixedpoint

import "math/big"

// Precision constants. Callers must treat these as read-only.
var (
	// Wad is the amount scale, 1e18 units per whole token.
	Wad = mustBigInt("1000000000000000000")
	// Ray is the rate scale, 1e27 units per whole.
	Ray = mustBigInt("1000000000000000000000000000")
	// Rad is the value scale, 1e45 units per whole (Wad * Ray).
	Rad = mustBigInt("1000000000000000000000000000000000000000000000")
	// WadRayRatio lifts a Wad quantity onto the Ray scale.
	WadRayRatio = mustBigInt("1000000000")
	// BasisPoints is the denominator for bps-expressed fractions.
	BasisPoints = big.NewInt(10_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("fixedpoint: invalid big integer constant")
	}
	return v
}

// Mul returns the exact product x*y. Multiplying a Wad amount by a Ray rate
// yields a Rad value with no rounding at all, which is why debt values are
// always recomputed as share*rate rather than stored.
func Mul(x, y *big.Int) *big.Int {
	if x == nil || y == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(x, y)
}

// RayMul multiplies two Ray quantities, truncating toward zero. Truncation is
// deliberate: amounts owed to the protocol always round down in the payer's
// favour, and the reference test vectors depend on it bit-for-bit.
func RayMul(x, y *big.Int) *big.Int {
	if x == nil || y == nil {
		return new(big.Int)
	}
	product := new(big.Int).Mul(x, y)
	return product.Quo(product, Ray)
}

// RayDiv divides x by y on the Ray scale, truncating toward zero.
func RayDiv(x, y *big.Int) *big.Int {
	if x == nil || y == nil || y.Sign() == 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(x, Ray)
	return scaled.Quo(scaled, y)
}

// DivRay strips a Ray factor from x, truncating toward zero. A Rad value
// divided by a Ray rate yields a Wad amount.
func DivRay(x, ray *big.Int) *big.Int {
	if x == nil || ray == nil || ray.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(x, ray)
}

// WadToRay lifts a Wad quantity onto the Ray scale.
func WadToRay(wad *big.Int) *big.Int {
	if wad == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(wad, WadRayRatio)
}

// BpsMul applies a basis-point fraction to x, truncating toward zero.
func BpsMul(x *big.Int, bps uint64) *big.Int {
	if x == nil || bps == 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(x, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, BasisPoints)
}

// BpsDiv divides x by a basis-point fraction, truncating toward zero.
func BpsDiv(x *big.Int, bps uint64) *big.Int {
	if x == nil || bps == 0 {
		return new(big.Int)
	}
	scaled := new(big.Int).Mul(x, BasisPoints)
	return scaled.Quo(scaled, new(big.Int).SetUint64(bps))
}

// RPow raises a Ray base to an integer exponent by repeated squaring. Each
// intermediate multiplication rounds half-up, matching the rate compounding of
// the original fee accumulator; this is the one place the core rounds up.
func RPow(base *big.Int, n uint64) *big.Int {
	if base == nil {
		return new(big.Int)
	}
	z := new(big.Int).Set(Ray)
	x := new(big.Int).Set(base)
	for n > 0 {
		if n&1 == 1 {
			z = rayMulHalfUp(z, x)
		}
		x = rayMulHalfUp(x, x)
		n >>= 1
	}
	return z
}

func rayMulHalfUp(x, y *big.Int) *big.Int {
	product := new(big.Int).Mul(x, y)
	product.Add(product, halfRay)
	return product.Quo(product, Ray)
}

var halfRay = new(big.Int).Rsh(Ray, 1)
