package lendbook

import "math/big"

// selfReplace reposts a taken order's net proceeds as a fresh order on the
// opposite side at the maker's paired price. The replacement inherits the
// original borrowability flag and receives a default paired price of its own.
// Called only after every position collateralised by the origin order has
// been closed, so nothing encumbered ever crosses into the replacement.
func (e *Engine) selfReplace(st *State, origin *Order, proceeds *big.Int) uint64 {
	if proceeds == nil || proceeds.Sign() <= 0 {
		return 0
	}
	if origin.PairedPrice == nil || origin.PairedPrice.Sign() <= 0 {
		return 0
	}
	side := origin.Side.Opposite()
	price := cloneBig(origin.PairedPrice)

	order := st.findOrder(origin.Owner, side, price)
	if order != nil {
		order.Quantity = new(big.Int).Add(order.Quantity, proceeds)
	} else {
		order = &Order{
			ID:          st.NextOrderID,
			Owner:       origin.Owner,
			Side:        side,
			Price:       price,
			PairedPrice: e.params.defaultPairedPrice(side, price),
			Quantity:    cloneBig(proceeds),
			Borrowed:    big.NewInt(0),
			Borrowable:  origin.Borrowable,
		}
		st.NextOrderID++
		st.Orders[order.ID] = order
		user := st.ensureUser(origin.Owner)
		user.DepositIDs = append(user.DepositIDs, order.ID)
	}
	market := st.market(side.Asset())
	market.TotalDeposits = new(big.Int).Add(market.TotalDeposits, proceeds)

	e.emitter.Emit(newReplaceEvent(origin, order, proceeds))
	return order.ID
}
