package lendbook

import (
	"math/big"
	"sort"

	"lendbook/core/types"
)

// VaultAccount is the custody account holding every deposited asset while it
// rests on the book.
const VaultAccount = "vault:lendbook"

// State is the arena for every entity the engine owns. Entities reference each
// other exclusively by id so relocation and liquidation can rewrite edges
// without dangling pointers.
type State struct {
	Orders    map[uint64]*Order         `json:"orders"`
	Positions map[uint64]*Position      `json:"positions"`
	Users     map[string]*User          `json:"users"`
	Accounts  map[string]*types.Account `json:"accounts"`
	Quote     *Market                   `json:"quote"`
	Base      *Market                   `json:"base"`

	NextOrderID    uint64 `json:"nextOrderId"`
	NextPositionID uint64 `json:"nextPositionId"`
}

// NewState returns an empty book state with both markets initialised at the
// given timestamp.
func NewState(now int64) *State {
	return &State{
		Orders:    make(map[uint64]*Order),
		Positions: make(map[uint64]*Position),
		Users:     make(map[string]*User),
		Accounts:  make(map[string]*types.Account),
		Quote: &Market{
			Asset:         AssetQuote,
			TotalDeposits: big.NewInt(0),
			TotalBorrows:  big.NewInt(0),
			RateIndex:     big.NewInt(0),
			LastUpdate:    now,
		},
		Base: &Market{
			Asset:         AssetBase,
			TotalDeposits: big.NewInt(0),
			TotalBorrows:  big.NewInt(0),
			RateIndex:     big.NewInt(0),
			LastUpdate:    now,
		},
		NextOrderID:    1,
		NextPositionID: 1,
	}
}

// Clone returns a deep copy of the full state. Operations mutate a clone and
// commit it atomically on success.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Orders:         make(map[uint64]*Order, len(s.Orders)),
		Positions:      make(map[uint64]*Position, len(s.Positions)),
		Users:          make(map[string]*User, len(s.Users)),
		Accounts:       make(map[string]*types.Account, len(s.Accounts)),
		Quote:          s.Quote.Clone(),
		Base:           s.Base.Clone(),
		NextOrderID:    s.NextOrderID,
		NextPositionID: s.NextPositionID,
	}
	for id, o := range s.Orders {
		clone.Orders[id] = o.Clone()
	}
	for id, p := range s.Positions {
		clone.Positions[id] = p.Clone()
	}
	for id, u := range s.Users {
		clone.Users[id] = u.Clone()
	}
	for id, a := range s.Accounts {
		clone.Accounts[id] = a.Clone()
	}
	return clone
}

// EnsureDefaults populates nil fields after decoding a snapshot.
func (s *State) EnsureDefaults() {
	if s.Orders == nil {
		s.Orders = make(map[uint64]*Order)
	}
	if s.Positions == nil {
		s.Positions = make(map[uint64]*Position)
	}
	if s.Users == nil {
		s.Users = make(map[string]*User)
	}
	if s.Accounts == nil {
		s.Accounts = make(map[string]*types.Account)
	}
	if s.Quote == nil {
		s.Quote = &Market{Asset: AssetQuote}
	}
	if s.Base == nil {
		s.Base = &Market{Asset: AssetBase}
	}
	for _, m := range []*Market{s.Quote, s.Base} {
		if m.TotalDeposits == nil {
			m.TotalDeposits = big.NewInt(0)
		}
		if m.TotalBorrows == nil {
			m.TotalBorrows = big.NewInt(0)
		}
		if m.RateIndex == nil {
			m.RateIndex = big.NewInt(0)
		}
	}
	if s.NextOrderID == 0 {
		s.NextOrderID = 1
	}
	if s.NextPositionID == 0 {
		s.NextPositionID = 1
	}
	for _, acc := range s.Accounts {
		acc.EnsureDefaults()
	}
}

// market returns the market for the given asset.
func (s *State) market(a Asset) *Market {
	if a == AssetQuote {
		return s.Quote
	}
	return s.Base
}

// ensureUser returns the user record, creating it on first contact.
func (s *State) ensureUser(id string) *User {
	if u, ok := s.Users[id]; ok {
		return u
	}
	u := &User{ID: id}
	s.Users[id] = u
	return u
}

// ensureAccount returns the custody account, creating an empty one on first
// contact.
func (s *State) ensureAccount(id string) *types.Account {
	if acc, ok := s.Accounts[id]; ok {
		acc.EnsureDefaults()
		return acc
	}
	acc := &types.Account{BalanceQuote: big.NewInt(0), BalanceBase: big.NewInt(0)}
	s.Accounts[id] = acc
	return acc
}

// sortedOrderIDs returns every order id in ascending order, the deterministic
// traversal used by scans.
func (s *State) sortedOrderIDs() []uint64 {
	ids := make([]uint64, 0, len(s.Orders))
	for id := range s.Orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func balanceOf(acc *types.Account, a Asset) *big.Int {
	if a == AssetQuote {
		return acc.BalanceQuote
	}
	return acc.BalanceBase
}

func setBalance(acc *types.Account, a Asset, v *big.Int) {
	if a == AssetQuote {
		acc.BalanceQuote = v
		return
	}
	acc.BalanceBase = v
}

// transfer moves amount of asset between custody accounts inside the state.
// It fails with ErrInsufficientAvailable when the source balance cannot cover
// the amount, mirroring a reverting token transfer.
func (s *State) transfer(from, to string, a Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidQuantity
	}
	if amount.Sign() == 0 {
		return nil
	}
	src := s.ensureAccount(from)
	dst := s.ensureAccount(to)
	bal := balanceOf(src, a)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientAvailable
	}
	setBalance(src, a, new(big.Int).Sub(bal, amount))
	setBalance(dst, a, new(big.Int).Add(balanceOf(dst, a), amount))
	return nil
}
