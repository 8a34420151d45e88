package lendbook

import (
	"math/big"

	"lendbook/core/types"
)

// Order returns a copy of the order, or ErrOrderNotFound.
func (e *Engine) Order(orderID uint64) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order := e.state.Orders[orderID]
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Position returns a copy of the position, or ErrPositionNotFound.
func (e *Engine) Position(positionID uint64) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	position := e.state.Positions[positionID]
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return position.Clone(), nil
}

// User returns a copy of the user record; unknown users get an empty record,
// matching the create-on-first-deposit model.
func (e *Engine) User(userID string) *User {
	e.mu.Lock()
	defer e.mu.Unlock()
	if user := e.state.Users[userID]; user != nil {
		return user.Clone()
	}
	return &User{ID: userID}
}

// Market returns a copy of the market for the given asset.
func (e *Engine) Market(a Asset) *Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.market(a).Clone()
}

// ExcessCollateral reports the user's unencumbered value in the given asset,
// including interest pending on their debts.
func (e *Engine) ExcessCollateral(userID string, a Asset) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.excessCollateral(userID, a)
}

// AccountBalance returns a copy of the user's custody balances.
func (e *Engine) AccountBalance(userID string) *types.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc := e.state.Accounts[userID]; acc != nil {
		return acc.Clone()
	}
	return &types.Account{BalanceQuote: big.NewInt(0), BalanceBase: big.NewInt(0)}
}

// IsBorrowing reports whether the user still owes anything against the order.
func (e *Engine) IsBorrowing(userID string, orderID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	position := e.state.findPosition(userID, orderID)
	return position != nil && position.Principal.Sign() > 0
}

// Snapshot returns a deep copy of the whole book state for persistence.
func (e *Engine) Snapshot() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}
