package types

import "math/big"

// Account holds the custodial balances for a single participant. Amounts are
// denominated in wei-scale integers for both sides of the traded pair.
type Account struct {
	BalanceQuote *big.Int `json:"balanceQuote"`
	BalanceBase  *big.Int `json:"balanceBase"`
}

// EnsureDefaults populates nil balances so arithmetic on a freshly decoded
// account is safe.
func (a *Account) EnsureDefaults() {
	if a.BalanceQuote == nil {
		a.BalanceQuote = big.NewInt(0)
	}
	if a.BalanceBase == nil {
		a.BalanceBase = big.NewInt(0)
	}
}

// Clone returns a deep copy of the account so callers can mutate the copy
// without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{}
	if a.BalanceQuote != nil {
		clone.BalanceQuote = new(big.Int).Set(a.BalanceQuote)
	} else {
		clone.BalanceQuote = big.NewInt(0)
	}
	if a.BalanceBase != nil {
		clone.BalanceBase = new(big.Int).Set(a.BalanceBase)
	} else {
		clone.BalanceBase = big.NewInt(0)
	}
	return clone
}
