package common

import "errors"

// ErrActionPaused is returned when a governance switch has disabled the
// requested book action.
var ErrActionPaused = errors.New("action paused")

// PauseView exposes the operational kill switches consulted before every
// mutating book operation. Actions are identified by their entry point name
// (e.g. "deposit", "borrow", "take").
type PauseView interface {
	IsPaused(action string) bool
}

// Guard rejects the call when the given action is currently paused. A nil view
// or empty action always passes.
func Guard(p PauseView, action string) error {
	if p == nil || action == "" {
		return nil
	}
	if p.IsPaused(action) {
		return ErrActionPaused
	}
	return nil
}

// ActionPauses is a static PauseView covering the lending book's flows. The
// zero value leaves every action enabled.
type ActionPauses struct {
	Deposit     bool
	Withdraw    bool
	Borrow      bool
	Repay       bool
	Take        bool
	Liquidate   bool
	PairedPrice bool
	Borrowable  bool
}

// IsPaused implements PauseView.
func (p ActionPauses) IsPaused(action string) bool {
	switch action {
	case "deposit":
		return p.Deposit
	case "withdraw":
		return p.Withdraw
	case "borrow":
		return p.Borrow
	case "repay":
		return p.Repay
	case "take":
		return p.Take
	case "liquidate":
		return p.Liquidate
	case "paired_price":
		return p.PairedPrice
	case "borrowable":
		return p.Borrowable
	default:
		return false
	}
}
