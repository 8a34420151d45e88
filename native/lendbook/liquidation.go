package lendbook

import (
	"math/big"

	"lendbook/native/common"
)

// Liquidate closes a position whose borrower's excess collateral has been
// eroded to or below zero by accrued interest. The liquidator repays the
// debt in the borrowed asset and seizes collateral valued at the oracle
// price plus the fixed fee, capped at the borrower's unlent collateral. An
// order that is currently profitable to trade must be taken instead.
func (e *Engine) Liquidate(liquidator string, positionID uint64) (*big.Int, *big.Int, error) {
	if err := common.Guard(e.pauses, "liquidate"); err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	position := st.Positions[positionID]
	if position == nil {
		return nil, nil, ErrPositionNotFound
	}
	order := st.Orders[position.OrderID]
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	repaid, seized, err := e.liquidatePosition(st, liquidator, position, order)
	if err != nil {
		return nil, nil, err
	}

	e.state = st
	e.emitter.Emit(newLiquidateEvent(order, position, liquidator, repaid, seized))
	return repaid, seized, nil
}

// LiquidateBorrower walks every position of an insolvent borrower in id
// order, closing each while the supplied budget covers its repayment. The
// walk stops at the first close the remaining budget cannot fund; closes
// already funded commit. The total repaid and seized amounts are returned.
func (e *Engine) LiquidateBorrower(liquidator, borrower string, supplied *big.Int) (*big.Int, *big.Int, error) {
	if err := common.Guard(e.pauses, "liquidate"); err != nil {
		return nil, nil, err
	}
	if supplied == nil || supplied.Sign() <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	user := st.Users[borrower]
	if user == nil {
		return nil, nil, ErrPositionNotFound
	}
	budget := cloneBig(supplied)
	totalRepaid := big.NewInt(0)
	totalSeized := big.NewInt(0)
	shortfall := false
walk:
	for _, oid := range append([]uint64(nil), user.BorrowFromIDs...) {
		order := st.Orders[oid]
		if order == nil {
			continue
		}
		for _, pid := range append([]uint64(nil), order.PositionIDs...) {
			position := st.Positions[pid]
			if position == nil || position.Borrower != borrower {
				continue
			}
			repay, seizeTarget, err := e.planLiquidation(st, position, order)
			if err != nil {
				continue
			}
			if repay.Cmp(budget) > 0 {
				// The next close is not funded; stop before moving anything
				// and commit the closes already paid for.
				shortfall = true
				break walk
			}
			repaid, seized, err := e.settleLiquidation(st, liquidator, position, order, repay, seizeTarget)
			if err != nil {
				continue
			}
			budget.Sub(budget, repaid)
			totalRepaid.Add(totalRepaid, repaid)
			totalSeized.Add(totalSeized, seized)
			if budget.Sign() == 0 {
				break walk
			}
		}
	}
	if totalRepaid.Sign() == 0 {
		if shortfall {
			return nil, nil, ErrInsufficientAvailable
		}
		return nil, nil, ErrNotLiquidatable
	}

	e.state = st
	e.emitter.Emit(newLiquidateBorrowerEvent(borrower, liquidator, totalRepaid, totalSeized))
	return totalRepaid, totalSeized, nil
}

func (e *Engine) liquidatePosition(st *State, liquidator string, position *Position, order *Order) (*big.Int, *big.Int, error) {
	repay, seizeTarget, err := e.planLiquidation(st, position, order)
	if err != nil {
		return nil, nil, err
	}
	return e.settleLiquidation(st, liquidator, position, order, repay, seizeTarget)
}

// planLiquidation validates the close and computes the repayment and seizure
// target. The position is accrued, but no funds move, so callers can still
// decline the plan.
func (e *Engine) planLiquidation(st *State, position *Position, order *Order) (*big.Int, *big.Int, error) {
	asset := order.Side.Asset()
	collateralAsset := asset.Opposite()
	if st.excessCollateral(position.Borrower, collateralAsset).Sign() > 0 {
		return nil, nil, ErrNotLiquidatable
	}
	oraclePrice, err := e.currentPrice()
	if err != nil {
		return nil, nil, err
	}
	if e.takeable(order, oraclePrice) {
		// The order can be traded profitably right now; takers liquidate it
		// through the regular path.
		return nil, nil, ErrPriceGuardFailed
	}

	st.accruePosition(position)
	principal := cloneBig(position.Principal)
	if principal.Sign() == 0 {
		return nil, nil, ErrNotLiquidatable
	}

	want := convert(principal, oraclePrice, asset, true)
	want.Add(want, mulBps(want, e.params.LiquidationFeeBps))
	available := st.availableCollateral(position.Borrower, collateralAsset)
	seizeTarget := minBig(want, available)
	if seizeTarget.Sign() == 0 {
		return nil, nil, ErrInsufficientAvailable
	}

	repay := principal
	if seizeTarget.Cmp(want) < 0 {
		// Partial close: strip the fee back out and convert the seizable
		// collateral into repaid principal at the oracle price, rounding in
		// the book's favour.
		net := new(big.Int).Mul(seizeTarget, basisPoints)
		net.Quo(net, new(big.Int).Add(basisPoints, new(big.Int).SetUint64(e.params.LiquidationFeeBps)))
		repay = convert(net, oraclePrice, collateralAsset, false)
		repay = minBig(repay, principal)
		if repay.Sign() == 0 {
			return nil, nil, ErrInsufficientAvailable
		}
	}
	return repay, seizeTarget, nil
}

// settleLiquidation executes a planned close: the liquidator pays the
// repayment, collateral up to the target is seized and routed to them, and
// the debt bookkeeping unwinds.
func (e *Engine) settleLiquidation(st *State, liquidator string, position *Position, order *Order, repay, seizeTarget *big.Int) (*big.Int, *big.Int, error) {
	asset := order.Side.Asset()
	collateralAsset := asset.Opposite()
	if err := st.transfer(liquidator, VaultAccount, asset, repay); err != nil {
		return nil, nil, err
	}
	seized := st.seizeCollateral(position.Borrower, collateralAsset, seizeTarget)
	if err := st.transfer(VaultAccount, liquidator, collateralAsset, seized); err != nil {
		return nil, nil, err
	}

	position.Principal = new(big.Int).Sub(position.Principal, repay)
	order.Borrowed = new(big.Int).Sub(order.Borrowed, repay)
	market := st.market(asset)
	market.TotalBorrows = new(big.Int).Sub(market.TotalBorrows, repay)
	if position.Principal.Sign() == 0 {
		st.removePosition(position)
	}
	return cloneBig(repay), seized, nil
}
