package lendbook

import "math/big"

// Side identifies which half of the book an order rests on.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Asset returns the asset deposited by makers on this side: buy orders hold
// quote, sell orders hold base.
func (s Side) Asset() Asset {
	if s == SideBuy {
		return AssetQuote
	}
	return AssetBase
}

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Asset identifies one leg of the traded pair.
type Asset uint8

const (
	AssetQuote Asset = iota
	AssetBase
)

// Opposite returns the other leg of the pair.
func (a Asset) Opposite() Asset {
	if a == AssetQuote {
		return AssetBase
	}
	return AssetQuote
}

func (a Asset) String() string {
	if a == AssetQuote {
		return "quote"
	}
	return "base"
}

// Order is a resting limit order whose deposit doubles as loanable capital.
// Quantity is denominated in the side's asset; Borrowed is the sum of the
// outstanding position principals drawn against it and never exceeds Quantity.
type Order struct {
	ID          uint64   `json:"id"`
	Owner       string   `json:"owner"`
	Side        Side     `json:"side"`
	Price       *big.Int `json:"price"`       // wad quote per base
	PairedPrice *big.Int `json:"pairedPrice"` // replacement price on the opposite side
	Quantity    *big.Int `json:"quantity"`
	Borrowed    *big.Int `json:"borrowed"`
	Borrowable  bool     `json:"borrowable"`
	PositionIDs []uint64 `json:"positionIds"`
}

// Available reports the unlent portion of the order.
func (o *Order) Available() *big.Int {
	if o == nil {
		return big.NewInt(0)
	}
	avail := new(big.Int).Sub(o.Quantity, o.Borrowed)
	if avail.Sign() < 0 {
		return big.NewInt(0)
	}
	return avail
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneBig(o.Price)
	clone.PairedPrice = cloneBig(o.PairedPrice)
	clone.Quantity = cloneBig(o.Quantity)
	clone.Borrowed = cloneBig(o.Borrowed)
	clone.PositionIDs = append([]uint64(nil), o.PositionIDs...)
	return &clone
}

// Position records a borrower's outstanding draw against a single order.
// Principal includes interest applied at each accrual touch; IndexSnapshot is
// the source market's time-weighted rate index at the last touch.
type Position struct {
	ID            uint64   `json:"id"`
	Borrower      string   `json:"borrower"`
	OrderID       uint64   `json:"orderId"`
	Principal     *big.Int `json:"principal"`
	IndexSnapshot *big.Int `json:"indexSnapshot"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Principal = cloneBig(p.Principal)
	clone.IndexSnapshot = cloneBig(p.IndexSnapshot)
	return &clone
}

// User holds the id-to-entity relations for a participant. Records persist
// with empty sets after all orders and positions are gone.
type User struct {
	ID            string   `json:"id"`
	DepositIDs    []uint64 `json:"depositIds"`
	BorrowFromIDs []uint64 `json:"borrowFromIds"`
}

// Clone returns a deep copy of the user record.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.DepositIDs = append([]uint64(nil), u.DepositIDs...)
	clone.BorrowFromIDs = append([]uint64(nil), u.BorrowFromIDs...)
	return &clone
}

// Market captures the aggregate accounting for one asset of the pair together
// with its time-weighted interest index. RateIndex accumulates rate multiplied
// by time, not principal, and is monotonically non-decreasing.
type Market struct {
	Asset         Asset    `json:"asset"`
	TotalDeposits *big.Int `json:"totalDeposits"`
	TotalBorrows  *big.Int `json:"totalBorrows"`
	RateIndex     *big.Int `json:"rateIndex"`
	LastUpdate    int64    `json:"lastUpdate"`
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.TotalDeposits = cloneBig(m.TotalDeposits)
	clone.TotalBorrows = cloneBig(m.TotalBorrows)
	clone.RateIndex = cloneBig(m.RateIndex)
	return &clone
}

// Utilisation computes borrows over deposits in wad scale, clamped to one.
func (m *Market) Utilisation() *big.Int {
	if m == nil || m.TotalBorrows == nil || m.TotalBorrows.Sign() == 0 {
		return big.NewInt(0)
	}
	if m.TotalDeposits == nil || m.TotalDeposits.Sign() == 0 {
		return big.NewInt(0)
	}
	ur := wadDivDown(m.TotalBorrows, m.TotalDeposits)
	if ur.Cmp(wad) > 0 {
		return new(big.Int).Set(wad)
	}
	return ur
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// removeID drops the first occurrence of id from the list by swapping with the
// last element. Ordering is not preserved.
func removeID(list []uint64, id uint64) []uint64 {
	for i, v := range list {
		if v == id {
			list[i] = list[len(list)-1]
			return list[:len(list)-1]
		}
	}
	return list
}

func containsID(list []uint64, id uint64) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
