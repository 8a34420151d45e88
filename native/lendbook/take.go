package lendbook

import (
	"math/big"

	"lendbook/native/common"
)

// TakeReceipt summarises the settlement of a take.
type TakeReceipt struct {
	// Taken is the order-asset quantity delivered to the taker.
	Taken *big.Int
	// Paid is the opposite-asset quantity the taker paid at the limit price.
	Paid *big.Int
	// Seized is the collateral collected from borrowers whose positions were
	// closed by the take.
	Seized *big.Int
	// ReplacementOrderID is the opposite-side order funded by the maker's net
	// proceeds, zero when nothing was reposted.
	ReplacementOrderID uint64
}

// Take trades against a resting order at its limit price. Every position
// borrowing from the order is closed first, whatever the taken quantity, by
// seizing the borrower's opposite-side collateral at the limit price. When
// the order itself collateralises the maker's own debts those are settled
// out of the proceeds before anything is reposted. The net remainder funds a
// replacement order at the maker's paired price.
func (e *Engine) Take(taker string, orderID uint64, quantity *big.Int) (*TakeReceipt, error) {
	if err := common.Guard(e.pauses, "take"); err != nil {
		return nil, err
	}
	if quantity == nil || quantity.Sign() < 0 {
		return nil, ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	order := st.Orders[orderID]
	if order == nil {
		return nil, ErrOrderNotFound
	}
	oraclePrice, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	if !e.takeable(order, oraclePrice) {
		return nil, ErrPriceGuardFailed
	}

	asset := order.Side.Asset()
	proceedsAsset := asset.Opposite()
	market := st.market(asset)

	// Close every borrowing position, converting each accrued principal into
	// a collateral claim at the limit price. The seized assets accumulate in
	// the maker's proceeds; shortfalls against eroded collateral are absorbed.
	proceeds := big.NewInt(0)
	seizedTotal := big.NewInt(0)
	for _, pid := range append([]uint64(nil), order.PositionIDs...) {
		position := st.Positions[pid]
		if position == nil {
			continue
		}
		st.accruePosition(position)
		principal := cloneBig(position.Principal)
		if principal.Sign() > 0 {
			claim := convert(principal, order.Price, asset, true)
			seized := st.seizeCollateral(position.Borrower, proceedsAsset, claim)
			proceeds.Add(proceeds, seized)
			seizedTotal.Add(seizedTotal, seized)

			order.Borrowed = new(big.Int).Sub(order.Borrowed, principal)
			order.Quantity = new(big.Int).Sub(order.Quantity, principal)
			market.TotalBorrows = new(big.Int).Sub(market.TotalBorrows, principal)
			market.TotalDeposits = new(big.Int).Sub(market.TotalDeposits, principal)
			position.Principal = big.NewInt(0)
		}
		st.removePosition(position)
	}

	if quantity.Cmp(order.Quantity) > 0 {
		return nil, ErrInsufficientAvailable
	}
	paid := big.NewInt(0)
	if quantity.Sign() > 0 {
		paid = convert(quantity, order.Price, asset, true)
		if err := st.transfer(taker, VaultAccount, proceedsAsset, paid); err != nil {
			return nil, err
		}
		if err := st.transfer(VaultAccount, taker, asset, quantity); err != nil {
			return nil, err
		}
		order.Quantity = new(big.Int).Sub(order.Quantity, quantity)
		market.TotalDeposits = new(big.Int).Sub(market.TotalDeposits, quantity)
		proceeds.Add(proceeds, paid)
	}

	if order.Quantity.Sign() == 0 {
		st.removeOrder(order)
	} else if order.Quantity.Cmp(e.params.minResidual(asset)) < 0 {
		return nil, ErrFloorBreach
	}

	// Settle the maker's own debts before any proceeds leave encumbrance;
	// the proceeds asset matches the maker's debt denomination.
	remaining := st.settleOwnDebts(order.Owner, proceedsAsset, proceeds)

	var replacementID uint64
	if remaining.Sign() > 0 {
		replacementID = e.selfReplace(st, order, remaining)
	}

	e.state = st
	receipt := &TakeReceipt{
		Taken:              cloneBig(quantity),
		Paid:               paid,
		Seized:             seizedTotal,
		ReplacementOrderID: replacementID,
	}
	e.emitter.Emit(newTakeEvent(order, taker, receipt))
	return receipt, nil
}

// settleOwnDebts repays the maker's borrowing positions denominated in the
// given asset from the available budget, largest ids last (scan order).
// Returns the unspent remainder.
func (st *State) settleOwnDebts(maker string, a Asset, budget *big.Int) *big.Int {
	remaining := cloneBig(budget)
	user := st.Users[maker]
	if user == nil || remaining.Sign() == 0 {
		return remaining
	}
	for _, oid := range append([]uint64(nil), user.BorrowFromIDs...) {
		if remaining.Sign() == 0 {
			break
		}
		source := st.Orders[oid]
		if source == nil || source.Side.Asset() != a {
			continue
		}
		for _, pid := range append([]uint64(nil), source.PositionIDs...) {
			position := st.Positions[pid]
			if position == nil || position.Borrower != maker {
				continue
			}
			st.accruePosition(position)
			pay := minBig(cloneBig(position.Principal), remaining)
			if pay.Sign() == 0 {
				continue
			}
			position.Principal = new(big.Int).Sub(position.Principal, pay)
			source.Borrowed = new(big.Int).Sub(source.Borrowed, pay)
			market := st.market(a)
			market.TotalBorrows = new(big.Int).Sub(market.TotalBorrows, pay)
			remaining = new(big.Int).Sub(remaining, pay)
			if position.Principal.Sign() == 0 {
				st.removePosition(position)
			}
			if remaining.Sign() == 0 {
				break
			}
		}
	}
	return remaining
}

// takeable reports whether the order can be traded without sniping the maker:
// buys require the oracle at or below the limit, sells at or above, each with
// the configured tolerance.
func (e *Engine) takeable(order *Order, oraclePrice *big.Int) bool {
	tolerance := mulBps(order.Price, e.params.OracleToleranceBps)
	if order.Side == SideBuy {
		limit := new(big.Int).Add(order.Price, tolerance)
		return oraclePrice.Cmp(limit) <= 0
	}
	limit := new(big.Int).Sub(order.Price, tolerance)
	return oraclePrice.Cmp(limit) >= 0
}

func (e *Engine) currentPrice() (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrOracleUnavailable
	}
	price, err := e.oracle.CurrentPrice()
	if err != nil || price == nil || price.Sign() <= 0 {
		return nil, ErrOracleUnavailable
	}
	return price, nil
}
