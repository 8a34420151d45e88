package lendbook

import "math/big"

// convert re-denominates an amount into the opposite asset at a wad price
// expressed as quote per base. roundUp is chosen by the caller: up for debt
// and seizure requirements, down for credits.
func convert(amount, price *big.Int, from Asset, roundUp bool) *big.Int {
	if from == AssetQuote {
		if roundUp {
			return wadDivUp(amount, price)
		}
		return wadDivDown(amount, price)
	}
	if roundUp {
		return wadMulUp(amount, price)
	}
	return wadMulDown(amount, price)
}

// excessCollateral values the user's unencumbered holdings in the given
// asset: deposits across the user's orders of that asset, minus the part lent
// out of those orders, minus the collateral pledged against the user's own
// debts whose collateral side is that asset. Debt collateral requirements are
// converted at each source order's limit price, rounding up.
func (st *State) excessCollateral(userID string, a Asset) *big.Int {
	user := st.Users[userID]
	if user == nil {
		return big.NewInt(0)
	}
	excess := big.NewInt(0)
	for _, oid := range user.DepositIDs {
		order := st.Orders[oid]
		if order == nil || order.Side.Asset() != a {
			continue
		}
		excess.Add(excess, order.Quantity)
		excess.Sub(excess, order.Borrowed)
	}
	for _, oid := range user.BorrowFromIDs {
		order := st.Orders[oid]
		if order == nil || order.Side.Asset() != a.Opposite() {
			continue
		}
		for _, pid := range order.PositionIDs {
			p := st.Positions[pid]
			if p == nil || p.Borrower != userID {
				continue
			}
			debt := st.currentDebt(p)
			excess.Sub(excess, convert(debt, order.Price, order.Side.Asset(), true))
		}
	}
	return excess
}

// availableCollateral sums the unlent quantity across the user's orders of
// the given asset, the upper bound any seizure can reach.
func (st *State) availableCollateral(userID string, a Asset) *big.Int {
	user := st.Users[userID]
	if user == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	for _, oid := range user.DepositIDs {
		order := st.Orders[oid]
		if order == nil || order.Side.Asset() != a {
			continue
		}
		total.Add(total, order.Available())
	}
	return total
}

// seizeCollateral strips up to amount of the user's unlent deposits in the
// given asset, walking orders in id order. Emptied orders are removed. The
// seized total, capped at what was available, is returned; the assets stay in
// the vault for the caller to route.
func (st *State) seizeCollateral(userID string, a Asset, amount *big.Int) *big.Int {
	seized := big.NewInt(0)
	if amount == nil || amount.Sign() <= 0 {
		return seized
	}
	user := st.Users[userID]
	if user == nil {
		return seized
	}
	market := st.market(a)
	for _, oid := range st.sortedOrderIDs() {
		if seized.Cmp(amount) >= 0 {
			break
		}
		order := st.Orders[oid]
		if order == nil || order.Owner != userID || order.Side.Asset() != a {
			continue
		}
		slice := new(big.Int).Sub(amount, seized)
		slice = minBig(slice, order.Available())
		if slice.Sign() <= 0 {
			continue
		}
		order.Quantity = new(big.Int).Sub(order.Quantity, slice)
		market.TotalDeposits = new(big.Int).Sub(market.TotalDeposits, slice)
		seized.Add(seized, slice)
		if order.Quantity.Sign() == 0 && len(order.PositionIDs) == 0 {
			st.removeOrder(order)
		}
	}
	return seized
}
