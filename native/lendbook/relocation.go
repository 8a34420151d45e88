package lendbook

import "math/big"

// relocate re-homes positions borrowing from the vacated order until the
// freed quantity covers need. Positions move whole; the loop is bounded by
// the smaller of the configured cap and the position count. A shortfall
// fails the operation; relocation never liquidates.
func (e *Engine) relocate(st *State, vacated *Order, need *big.Int) ([]bookEvent, error) {
	if need == nil || need.Sign() <= 0 {
		return nil, nil
	}
	bound := e.params.MaxRelocations
	if bound <= 0 {
		bound = 1
	}
	if l := len(vacated.PositionIDs); l < bound {
		bound = l
	}
	freed := big.NewInt(0)
	var moves []bookEvent
	for _, pid := range append([]uint64(nil), vacated.PositionIDs...) {
		if freed.Cmp(need) >= 0 || len(moves) >= bound {
			break
		}
		position := st.Positions[pid]
		if position == nil {
			continue
		}
		target := e.findNewOrder(st, vacated, position)
		if target == nil {
			continue
		}
		st.reposition(position, vacated, target)
		freed.Add(freed, position.Principal)
		moves = append(moves, newRelocateEvent(position, vacated, target))
	}
	if freed.Cmp(need) < 0 {
		return nil, ErrRelocationFailed
	}
	return moves, nil
}

// findNewOrder scans the same-side borrowable orders for a new home: enough
// spare capacity above the floor, price closest to the vacated order's price,
// ties broken by lower order id (the scan runs in ascending id order).
func (e *Engine) findNewOrder(st *State, vacated *Order, position *Position) *Order {
	floor := e.params.minResidual(vacated.Side.Asset())
	var best *Order
	var bestDist *big.Int
	for _, oid := range st.sortedOrderIDs() {
		candidate := st.Orders[oid]
		if candidate == nil || candidate.ID == vacated.ID {
			continue
		}
		if candidate.Side != vacated.Side || !candidate.Borrowable {
			continue
		}
		if !e.params.AllowSelfLending && candidate.Owner == position.Borrower {
			continue
		}
		spare := new(big.Int).Sub(candidate.Available(), floor)
		if spare.Cmp(position.Principal) < 0 {
			continue
		}
		dist := absDiff(candidate.Price, vacated.Price)
		if best == nil || dist.Cmp(bestDist) < 0 {
			best = candidate
			bestDist = dist
		}
	}
	return best
}

// reposition moves a position from one order to another, keeping its id and
// principal and taking a fresh index snapshot against the new market state.
// Aggregate borrows are unchanged, only redistributed.
func (st *State) reposition(position *Position, from, to *Order) {
	from.PositionIDs = removeID(from.PositionIDs, position.ID)
	from.Borrowed = new(big.Int).Sub(from.Borrowed, position.Principal)
	to.PositionIDs = append(to.PositionIDs, position.ID)
	to.Borrowed = new(big.Int).Add(to.Borrowed, position.Principal)
	position.OrderID = to.ID
	position.IndexSnapshot = cloneBig(st.market(to.Side.Asset()).RateIndex)

	user := st.ensureUser(position.Borrower)
	if st.findPosition(position.Borrower, from.ID) == nil {
		user.BorrowFromIDs = removeID(user.BorrowFromIDs, from.ID)
	}
	if !containsID(user.BorrowFromIDs, to.ID) {
		user.BorrowFromIDs = append(user.BorrowFromIDs, to.ID)
	}
}
