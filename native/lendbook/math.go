package lendbook

import "math/big"

var (
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed point scale
	basisPoints = big.NewInt(10_000)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// wadMulDown multiplies two wad-scaled values rounding toward zero. Used when
// crediting value so the book never over-credits.
func wadMulDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

// wadMulUp multiplies two wad-scaled values rounding away from zero. Used when
// computing debt owed so the book never under-collects.
func wadMulUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, new(big.Int).Sub(wad, big.NewInt(1)))
	return product.Quo(product, wad)
}

func wadDivDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	return numerator.Quo(numerator, b)
}

func wadDivUp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, wad)
	numerator.Add(numerator, new(big.Int).Sub(b, big.NewInt(1)))
	return numerator.Quo(numerator, b)
}

// taylorCompounded approximates e^x - 1 for a wad-scaled exponent using the
// first three Taylor terms: x + x^2/2 + x^3/6. The third term is derived from
// the second so intermediate precision stays in wad scale.
func taylorCompounded(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	first := new(big.Int).Set(x)
	second := wadMulDown(x, x)
	second.Quo(second, big.NewInt(2))
	third := wadMulDown(second, x)
	third.Quo(third, big.NewInt(3))
	sum := new(big.Int).Add(first, second)
	return sum.Add(sum, third)
}

// mulBps applies a basis point factor to an amount, rounding down.
func mulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func absDiff(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(a, b)
	return diff.Abs(diff)
}
