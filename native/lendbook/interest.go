package lendbook

import "math/big"

// InterestModel shapes the instantaneous borrow rate as a linear function of
// the market's own utilisation and, through CrossSlope, of the opposite
// market's utilisation. All parameters are wad-scaled annual rates.
type InterestModel struct {
	BaseRate   *big.Int `json:"baseRate"`
	Slope      *big.Int `json:"slope"`
	CrossSlope *big.Int `json:"crossSlope"`
}

// NewInterestModel constructs a model from basis point inputs, e.g. a 2% base
// rate is 200 bps.
func NewInterestModel(baseBps, slopeBps, crossSlopeBps uint64) *InterestModel {
	fromBps := func(bps uint64) *big.Int {
		v := new(big.Int).Mul(wad, new(big.Int).SetUint64(bps))
		return v.Quo(v, basisPoints)
	}
	return &InterestModel{
		BaseRate:   fromBps(baseBps),
		Slope:      fromBps(slopeBps),
		CrossSlope: fromBps(crossSlopeBps),
	}
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate:   cloneBig(m.BaseRate),
		Slope:      cloneBig(m.Slope),
		CrossSlope: cloneBig(m.CrossSlope),
	}
}

// Rate derives the instantaneous annual borrow rate in wad scale:
// base + slope*UR + crossSlope*UR_opposite.
func (m *InterestModel) Rate(own, opposite *Market) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	rate := cloneBig(m.BaseRate)
	rate.Add(rate, wadMulDown(m.Slope, own.Utilisation()))
	rate.Add(rate, wadMulDown(m.CrossSlope, opposite.Utilisation()))
	return rate
}

// accrue advances the market's time-weighted index to now. The index grows by
// rate multiplied by elapsed time; principal growth is applied per position on
// touch via taylorCompounded.
func (m *Market) accrue(model *InterestModel, opposite *Market, now int64) {
	if m == nil || now <= m.LastUpdate {
		return
	}
	elapsed := now - m.LastUpdate
	rate := model.Rate(m, opposite)
	if rate.Sign() > 0 {
		increment := new(big.Int).Mul(rate, big.NewInt(elapsed))
		increment.Quo(increment, big.NewInt(secondsPerYear))
		if m.RateIndex == nil {
			m.RateIndex = big.NewInt(0)
		}
		m.RateIndex = new(big.Int).Add(m.RateIndex, increment)
	}
	m.LastUpdate = now
}

// DefaultInterestModel carries a 2% base rate, a 15% utilisation slope and a
// 1.5% cross-market slope.
var DefaultInterestModel = NewInterestModel(200, 1500, 150)
