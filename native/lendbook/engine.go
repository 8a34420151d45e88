package lendbook

import (
	"math/big"
	"sync"
	"time"

	"lendbook/core/events"
	"lendbook/native/common"
)

const moduleName = "lendbook"

// PriceSource resolves the current market price as wad quote per base. The
// engine treats it as a synchronous, must-not-reenter collaborator.
type PriceSource interface {
	CurrentPrice() (*big.Int, error)
}

// Engine orchestrates every state transition of the lending book. Operations
// are serialised by a single mutex and applied to a deep clone of the state,
// which is committed only on success, so each entry point is atomic:
// either all of its effects persist or none do.
type Engine struct {
	mu      sync.Mutex
	state   *State
	params  Params
	model   *InterestModel
	oracle  PriceSource
	emitter events.Emitter
	pauses  common.PauseView
	nowFn   func() int64
}

// NewEngine constructs an engine with an empty book, the supplied parameters
// and the default interest model. Callers wire the oracle and emitter via the
// setters.
func NewEngine(params Params) *Engine {
	now := time.Now().Unix()
	return &Engine{
		state:   NewState(now),
		params:  params.Clone(),
		model:   DefaultInterestModel.Clone(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState replaces the engine state, e.g. when restoring a snapshot.
func (e *Engine) SetState(st *State) {
	if e == nil || st == nil {
		return
	}
	st.EnsureDefaults()
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
}

// SetInterestModel configures the interest rate model used by the engine.
func (e *Engine) SetInterestModel(model *InterestModel) {
	if e == nil || model == nil {
		return
	}
	e.mu.Lock()
	e.model = model.Clone()
	e.mu.Unlock()
}

// SetOracle wires the price source consulted by takes and liquidations.
func (e *Engine) SetOracle(oracle PriceSource) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the operational kill switches.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// Fund credits a user's custody account, standing in for an external
// transfer-in of assets onto the venue.
func (e *Engine) Fund(user string, asset Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state.Clone()
	acc := st.ensureAccount(user)
	setBalance(acc, asset, new(big.Int).Add(balanceOf(acc, asset), amount))
	e.state = st
	return nil
}

// accrueMarkets advances both time-weighted indexes to now. Rates are
// computed against the pre-accrual utilisation of both markets because each
// side's rate depends on the opposite side.
func (e *Engine) accrueMarkets(st *State) {
	now := e.nowFn()
	quoteView := st.Quote.Clone()
	baseView := st.Base.Clone()
	st.Quote.accrue(e.model, baseView, now)
	st.Base.accrue(e.model, quoteView, now)
}

// accruePosition applies the interest accrued since the position's index
// snapshot. The charge is rounded up and credited to the source order's
// deposit so the lender earns what the borrower owes and the
// borrowed-not-above-quantity invariant is preserved exactly.
func (st *State) accruePosition(p *Position) {
	if p == nil {
		return
	}
	order := st.Orders[p.OrderID]
	if order == nil {
		return
	}
	market := st.market(order.Side.Asset())
	delta := new(big.Int).Sub(market.RateIndex, p.IndexSnapshot)
	if delta.Sign() > 0 && p.Principal.Sign() > 0 {
		interest := wadMulUp(p.Principal, taylorCompounded(delta))
		p.Principal = new(big.Int).Add(p.Principal, interest)
		order.Borrowed = new(big.Int).Add(order.Borrowed, interest)
		order.Quantity = new(big.Int).Add(order.Quantity, interest)
		market.TotalBorrows = new(big.Int).Add(market.TotalBorrows, interest)
		market.TotalDeposits = new(big.Int).Add(market.TotalDeposits, interest)
	}
	p.IndexSnapshot = cloneBig(market.RateIndex)
}

// currentDebt reports the position's principal including pending interest
// without mutating anything. Used by collateral valuations.
func (st *State) currentDebt(p *Position) *big.Int {
	if p == nil || p.Principal == nil {
		return big.NewInt(0)
	}
	order := st.Orders[p.OrderID]
	if order == nil {
		return cloneBig(p.Principal)
	}
	market := st.market(order.Side.Asset())
	delta := new(big.Int).Sub(market.RateIndex, p.IndexSnapshot)
	if delta.Sign() <= 0 {
		return cloneBig(p.Principal)
	}
	debt := cloneBig(p.Principal)
	return debt.Add(debt, wadMulUp(p.Principal, taylorCompounded(delta)))
}

// findOrder locates an existing order for (owner, side, price).
func (st *State) findOrder(owner string, side Side, price *big.Int) *Order {
	for _, id := range st.sortedOrderIDs() {
		o := st.Orders[id]
		if o.Owner == owner && o.Side == side && o.Price.Cmp(price) == 0 {
			return o
		}
	}
	return nil
}

// Deposit places quantity at the given limit price, merging into an existing
// order for the same maker, side and price when one exists. A zero paired
// price selects the protocol default; an explicit one is applied even when
// the deposit merges. Returns the order id.
func (e *Engine) Deposit(maker string, quantity, price *big.Int, side Side, pairedPrice *big.Int) (uint64, error) {
	if err := common.Guard(e.pauses, "deposit"); err != nil {
		return 0, err
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	if price == nil || price.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	paired := pairedPrice
	if paired == nil || paired.Sign() == 0 {
		paired = e.params.defaultPairedPrice(side, price)
	} else if err := validPairedPrice(side, price, paired); err != nil {
		return 0, err
	}

	st := e.state.Clone()
	e.accrueMarkets(st)

	asset := side.Asset()
	if err := st.transfer(maker, VaultAccount, asset, quantity); err != nil {
		return 0, err
	}

	order := st.findOrder(maker, side, price)
	if order != nil {
		order.Quantity = new(big.Int).Add(order.Quantity, quantity)
		// An explicit paired price also retargets the merged order's
		// replacement; only the absent/zero case keeps the old one.
		if pairedPrice != nil && pairedPrice.Sign() > 0 {
			order.PairedPrice = cloneBig(paired)
		}
	} else {
		order = &Order{
			ID:          st.NextOrderID,
			Owner:       maker,
			Side:        side,
			Price:       cloneBig(price),
			PairedPrice: cloneBig(paired),
			Quantity:    cloneBig(quantity),
			Borrowed:    big.NewInt(0),
			Borrowable:  true,
		}
		st.NextOrderID++
		st.Orders[order.ID] = order
		user := st.ensureUser(maker)
		user.DepositIDs = append(user.DepositIDs, order.ID)
	}
	market := st.market(asset)
	market.TotalDeposits = new(big.Int).Add(market.TotalDeposits, quantity)

	e.state = st
	e.emitter.Emit(newDepositEvent(order, quantity))
	return order.ID, nil
}

// Withdraw releases quantity from the caller's order. When the request
// exceeds the unlent portion, outstanding debt is first relocated to other
// borrowable orders; a relocation shortfall aborts the whole withdrawal.
func (e *Engine) Withdraw(caller string, orderID uint64, quantity *big.Int) error {
	if err := common.Guard(e.pauses, "withdraw"); err != nil {
		return err
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	order := st.Orders[orderID]
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Owner != caller {
		return ErrUnauthorizedCaller
	}
	for _, pid := range append([]uint64(nil), order.PositionIDs...) {
		st.accruePosition(st.Positions[pid])
	}
	if quantity.Cmp(order.Quantity) > 0 {
		return ErrInsufficientAvailable
	}

	var relocations []bookEvent
	if quantity.Cmp(order.Available()) > 0 {
		need := new(big.Int).Sub(quantity, order.Available())
		moves, err := e.relocate(st, order, need)
		if err != nil {
			return err
		}
		relocations = moves
	}

	full := quantity.Cmp(order.Quantity) == 0 && order.Borrowed.Sign() == 0
	if !full {
		residual := new(big.Int).Sub(order.Quantity, quantity)
		residual.Sub(residual, order.Borrowed)
		if residual.Cmp(e.params.minResidual(order.Side.Asset())) < 0 {
			return ErrFloorBreach
		}
	}

	asset := order.Side.Asset()
	order.Quantity = new(big.Int).Sub(order.Quantity, quantity)
	market := st.market(asset)
	market.TotalDeposits = new(big.Int).Sub(market.TotalDeposits, quantity)

	if st.excessCollateral(caller, asset).Sign() < 0 {
		return ErrInsufficientCollateral
	}

	if order.Quantity.Sign() == 0 {
		st.removeOrder(order)
	}
	if err := st.transfer(VaultAccount, caller, asset, quantity); err != nil {
		return err
	}

	e.state = st
	for _, move := range relocations {
		e.emitter.Emit(move)
	}
	e.emitter.Emit(newWithdrawEvent(order, quantity))
	return nil
}

// Borrow draws quantity from a borrowable order against the caller's
// opposite-side excess collateral. Returns the position id.
func (e *Engine) Borrow(borrower string, orderID uint64, quantity *big.Int) (uint64, error) {
	if err := common.Guard(e.pauses, "borrow"); err != nil {
		return 0, err
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return 0, ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	order := st.Orders[orderID]
	if order == nil {
		return 0, ErrOrderNotFound
	}
	if !order.Borrowable {
		return 0, ErrNotBorrowable
	}
	if !e.params.AllowSelfLending && order.Owner == borrower {
		return 0, ErrSelfLending
	}
	for _, pid := range append([]uint64(nil), order.PositionIDs...) {
		st.accruePosition(st.Positions[pid])
	}
	available := order.Available()
	if quantity.Cmp(available) > 0 {
		return 0, ErrInsufficientAvailable
	}
	remaining := new(big.Int).Sub(available, quantity)
	if remaining.Cmp(e.params.minResidual(order.Side.Asset())) < 0 {
		return 0, ErrFloorBreach
	}

	asset := order.Side.Asset()
	market := st.market(asset)

	position := st.findPosition(borrower, order.ID)
	if position != nil {
		st.accruePosition(position)
		position.Principal = new(big.Int).Add(position.Principal, quantity)
	} else {
		position = &Position{
			ID:            st.NextPositionID,
			Borrower:      borrower,
			OrderID:       order.ID,
			Principal:     cloneBig(quantity),
			IndexSnapshot: cloneBig(market.RateIndex),
		}
		st.NextPositionID++
		st.Positions[position.ID] = position
		order.PositionIDs = append(order.PositionIDs, position.ID)
	}
	order.Borrowed = new(big.Int).Add(order.Borrowed, quantity)
	market.TotalBorrows = new(big.Int).Add(market.TotalBorrows, quantity)

	user := st.ensureUser(borrower)
	if !containsID(user.BorrowFromIDs, order.ID) {
		user.BorrowFromIDs = append(user.BorrowFromIDs, order.ID)
	}

	if st.excessCollateral(borrower, asset.Opposite()).Sign() < 0 {
		return 0, ErrInsufficientCollateral
	}

	if err := st.transfer(VaultAccount, borrower, asset, quantity); err != nil {
		return 0, err
	}

	e.state = st
	e.emitter.Emit(newBorrowEvent(order, position, quantity))
	return position.ID, nil
}

// Repay pays quantity back into the position. The position is deleted when
// its principal reaches zero.
func (e *Engine) Repay(caller string, positionID uint64, quantity *big.Int) error {
	if err := common.Guard(e.pauses, "repay"); err != nil {
		return err
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	e.accrueMarkets(st)

	position := st.Positions[positionID]
	if position == nil {
		return ErrPositionNotFound
	}
	if position.Borrower != caller {
		return ErrUnauthorizedCaller
	}
	st.accruePosition(position)
	if quantity.Cmp(position.Principal) > 0 {
		return ErrInsufficientAvailable
	}

	order := st.Orders[position.OrderID]
	if order == nil {
		return ErrOrderNotFound
	}
	asset := order.Side.Asset()
	if err := st.transfer(caller, VaultAccount, asset, quantity); err != nil {
		return err
	}

	position.Principal = new(big.Int).Sub(position.Principal, quantity)
	order.Borrowed = new(big.Int).Sub(order.Borrowed, quantity)
	market := st.market(asset)
	market.TotalBorrows = new(big.Int).Sub(market.TotalBorrows, quantity)

	if position.Principal.Sign() == 0 {
		st.removePosition(position)
	}

	e.state = st
	e.emitter.Emit(newRepayEvent(order, position, quantity))
	return nil
}

// ChangePairedPrice updates the maker's replacement price. The new price must
// sit on the correct side of the limit and strictly further from it than the
// current paired price.
func (e *Engine) ChangePairedPrice(caller string, orderID uint64, newPaired *big.Int) error {
	if err := common.Guard(e.pauses, "paired_price"); err != nil {
		return err
	}
	if newPaired == nil || newPaired.Sign() <= 0 {
		return ErrInvalidPairedPrice
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	order := st.Orders[orderID]
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Owner != caller {
		return ErrUnauthorizedCaller
	}
	if err := validPairedPrice(order.Side, order.Price, newPaired); err != nil {
		return err
	}
	if absDiff(newPaired, order.Price).Cmp(absDiff(order.PairedPrice, order.Price)) <= 0 {
		return ErrInvalidPairedPrice
	}
	order.PairedPrice = cloneBig(newPaired)

	e.state = st
	e.emitter.Emit(newPairedPriceEvent(order))
	return nil
}

// ChangeBorrowable flips the maker's lending flag. Clearing the flag blocks
// new borrows immediately; positions already drawn run until repaid or
// closed.
func (e *Engine) ChangeBorrowable(caller string, orderID uint64, borrowable bool) error {
	if err := common.Guard(e.pauses, "borrowable"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state.Clone()
	order := st.Orders[orderID]
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Owner != caller {
		return ErrUnauthorizedCaller
	}
	order.Borrowable = borrowable

	e.state = st
	e.emitter.Emit(newBorrowableEvent(order))
	return nil
}

// validPairedPrice checks that the replacement price sits on the opposite
// side of the limit: above for buys, below for sells.
func validPairedPrice(side Side, price, paired *big.Int) error {
	if paired == nil || paired.Sign() <= 0 {
		return ErrInvalidPairedPrice
	}
	if side == SideBuy && paired.Cmp(price) <= 0 {
		return ErrInvalidPairedPrice
	}
	if side == SideSell && paired.Cmp(price) >= 0 {
		return ErrInvalidPairedPrice
	}
	return nil
}

// findPosition locates the borrower's existing position against an order.
func (st *State) findPosition(borrower string, orderID uint64) *Position {
	order := st.Orders[orderID]
	if order == nil {
		return nil
	}
	for _, pid := range order.PositionIDs {
		p := st.Positions[pid]
		if p != nil && p.Borrower == borrower {
			return p
		}
	}
	return nil
}

// removeOrder deletes an emptied order from the arena and the owner's
// deposit set. Callers must have cleared or relocated its positions first.
func (st *State) removeOrder(order *Order) {
	delete(st.Orders, order.ID)
	if user := st.Users[order.Owner]; user != nil {
		user.DepositIDs = removeID(user.DepositIDs, order.ID)
	}
}

// removePosition deletes a fully repaid or liquidated position and unlinks it
// from its order and borrower.
func (st *State) removePosition(p *Position) {
	delete(st.Positions, p.ID)
	if order := st.Orders[p.OrderID]; order != nil {
		order.PositionIDs = removeID(order.PositionIDs, p.ID)
	}
	user := st.Users[p.Borrower]
	if user == nil {
		return
	}
	if st.findPosition(p.Borrower, p.OrderID) == nil {
		user.BorrowFromIDs = removeID(user.BorrowFromIDs, p.OrderID)
	}
}
