package lendbook

import "math/big"

// Params groups the protocol safety limits governing book activity.
type Params struct {
	// MinResidualQuote and MinResidualBase are the non-borrowable floors: the
	// unlent residual an order must keep after a borrow or partial withdrawal.
	MinResidualQuote *big.Int
	MinResidualBase  *big.Int
	// MaxRelocations bounds the relocation loop within a single withdrawal.
	MaxRelocations int
	// OracleToleranceBps is the slack applied to the oracle guard on takes.
	OracleToleranceBps uint64
	// LiquidationFeeBps is the seizure surcharge in interest-driven
	// liquidations.
	LiquidationFeeBps uint64
	// AllowSelfLending permits a maker to borrow against her own order. Off by
	// default; the upstream behaviour is unresolved so this stays a toggle.
	AllowSelfLending bool
	// PairedPremiumBps and PairedDiscountBps set the default paired price:
	// price plus the premium for buys, price minus the discount for sells.
	PairedPremiumBps  uint64
	PairedDiscountBps uint64
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.MinResidualQuote = cloneBig(p.MinResidualQuote)
	clone.MinResidualBase = cloneBig(p.MinResidualBase)
	return clone
}

// minResidual returns the non-borrowable floor for the given asset.
func (p Params) minResidual(a Asset) *big.Int {
	if a == AssetQuote {
		return cloneBig(p.MinResidualQuote)
	}
	return cloneBig(p.MinResidualBase)
}

// defaultPairedPrice derives the replacement price when the maker does not
// supply one: 10% above the limit for buys, 9% below for sells.
func (p Params) defaultPairedPrice(side Side, price *big.Int) *big.Int {
	premium := p.PairedPremiumBps
	if premium == 0 {
		premium = 1000
	}
	discount := p.PairedDiscountBps
	if discount == 0 {
		discount = 900
	}
	if side == SideBuy {
		return new(big.Int).Add(price, mulBps(price, premium))
	}
	return new(big.Int).Sub(price, mulBps(price, discount))
}

// DefaultParams returns the book defaults: floors of 100 quote and 2 base
// (wad), a relocation bound of ten, a 1% oracle tolerance and the fixed 2%
// liquidation fee.
func DefaultParams() Params {
	return Params{
		MinResidualQuote:   new(big.Int).Mul(big.NewInt(100), wad),
		MinResidualBase:    new(big.Int).Mul(big.NewInt(2), wad),
		MaxRelocations:     10,
		OracleToleranceBps: 100,
		LiquidationFeeBps:  200,
		PairedPremiumBps:   1000,
		PairedDiscountBps:  900,
	}
}
