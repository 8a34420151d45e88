package lendbook

import (
	"math/big"
	"testing"
)

func TestRateCurve(t *testing.T) {
	model := NewInterestModel(200, 1500, 150)

	own := &Market{TotalDeposits: toWad(1000), TotalBorrows: toWad(500)}
	opp := &Market{TotalDeposits: toWad(1000), TotalBorrows: big.NewInt(0)}

	// base 2% + slope 15% * 50% utilisation = 9.5%.
	got := model.Rate(own, opp)
	want := new(big.Int).Add(
		NewInterestModel(200, 0, 0).BaseRate,
		wadMulDown(NewInterestModel(0, 1500, 0).Slope, new(big.Int).Quo(wad, big.NewInt(2))),
	)
	if got.Cmp(want) != 0 {
		t.Fatalf("rate = %s, want %s", got, want)
	}

	// The opposite market's utilisation feeds through the cross slope.
	opp.TotalBorrows = toWad(1000)
	withCross := model.Rate(own, opp)
	if withCross.Cmp(got) <= 0 {
		t.Fatal("cross utilisation must raise the rate")
	}
	diff := new(big.Int).Sub(withCross, got)
	if diff.Cmp(model.CrossSlope) != 0 {
		t.Fatalf("cross contribution = %s, want %s", diff, model.CrossSlope)
	}
}

func TestMarketAccrueIndex(t *testing.T) {
	model := NewInterestModel(200, 0, 0)
	market := &Market{
		Asset:         AssetQuote,
		TotalDeposits: toWad(1000),
		TotalBorrows:  toWad(1000),
		RateIndex:     big.NewInt(0),
		LastUpdate:    0,
	}
	opp := &Market{TotalDeposits: big.NewInt(0), TotalBorrows: big.NewInt(0)}

	market.accrue(model, opp, secondsPerYear)
	// A full year at a flat 2% advances the index by exactly the rate.
	if market.RateIndex.Cmp(model.BaseRate) != 0 {
		t.Fatalf("index = %s, want %s", market.RateIndex, model.BaseRate)
	}
	if market.LastUpdate != secondsPerYear {
		t.Fatalf("last update = %d", market.LastUpdate)
	}

	// Accruing to an older timestamp is a no-op.
	market.accrue(model, opp, secondsPerYear-10)
	if market.RateIndex.Cmp(model.BaseRate) != 0 {
		t.Fatal("index must not move backwards")
	}
}

func TestMarketAccrueSplitMatchesWhole(t *testing.T) {
	model := NewInterestModel(200, 0, 0)
	newMarket := func() *Market {
		return &Market{
			TotalDeposits: toWad(100),
			TotalBorrows:  toWad(100),
			RateIndex:     big.NewInt(0),
		}
	}
	opp := &Market{TotalDeposits: big.NewInt(0), TotalBorrows: big.NewInt(0)}

	whole := newMarket()
	whole.accrue(model, opp, 1000)

	split := newMarket()
	split.accrue(model, opp, 400)
	split.accrue(model, opp, 1000)

	// With an unchanged rate, the index is additive over sub-intervals up to
	// the per-step truncation.
	diff := new(big.Int).Sub(whole.RateIndex, split.RateIndex)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("split accrual drifted: whole=%s split=%s", whole.RateIndex, split.RateIndex)
	}
}

func TestUtilisationClamp(t *testing.T) {
	m := &Market{TotalDeposits: toWad(100), TotalBorrows: toWad(150)}
	if m.Utilisation().Cmp(wad) != 0 {
		t.Fatalf("utilisation = %s, want clamped to %s", m.Utilisation(), wad)
	}
	empty := &Market{TotalDeposits: big.NewInt(0), TotalBorrows: big.NewInt(0)}
	if empty.Utilisation().Sign() != 0 {
		t.Fatal("empty market utilisation must be zero")
	}
}
