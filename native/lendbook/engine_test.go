package lendbook

import (
	"errors"
	"math/big"
	"testing"

	"lendbook/core/events"
	"lendbook/native/common"
)

type staticPrice struct {
	price *big.Int
}

func (s *staticPrice) CurrentPrice() (*big.Int, error) {
	if s.price == nil {
		return nil, ErrOracleUnavailable
	}
	return cloneBig(s.price), nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) countType(eventType string) int {
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type testClock struct {
	now int64
}

func (c *testClock) advance(seconds int64) { c.now += seconds }

// newTestEngine builds an engine with a deterministic clock, a static oracle
// price and a recording emitter.
func newTestEngine(t *testing.T, price int64) (*Engine, *testClock, *staticPrice, *recordingEmitter) {
	t.Helper()
	clock := &testClock{now: 1_000_000}
	oracle := &staticPrice{price: toWad(price)}
	emitter := &recordingEmitter{}

	engine := NewEngine(DefaultParams())
	engine.SetState(NewState(clock.now))
	engine.SetNowFunc(func() int64 { return clock.now })
	engine.SetOracle(oracle)
	engine.SetEmitter(emitter)
	return engine, clock, oracle, emitter
}

func mustFund(t *testing.T, e *Engine, user string, asset Asset, units int64) {
	t.Helper()
	if err := e.Fund(user, asset, toWad(units)); err != nil {
		t.Fatalf("fund %s: %v", user, err)
	}
}

// checkVaultBacking asserts the vault holds exactly the unlent portion of
// every resting order, per asset.
func checkVaultBacking(t *testing.T, e *Engine) {
	t.Helper()
	st := e.Snapshot()
	for _, a := range []Asset{AssetQuote, AssetBase} {
		expected := big.NewInt(0)
		for _, order := range st.Orders {
			if order.Side.Asset() != a {
				continue
			}
			expected.Add(expected, order.Available())
		}
		vault := st.Accounts[VaultAccount]
		held := big.NewInt(0)
		if vault != nil {
			held = balanceOf(vault, a)
		}
		if held.Cmp(expected) != 0 {
			t.Fatalf("vault %s backing = %s, want %s", a, held, expected)
		}
	}
}

func TestDepositCreatesAndMergesOrders(t *testing.T) {
	engine, _, _, emitter := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)

	id1, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id2, err := engine.Deposit("alice", toWad(500), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("same maker/side/price must merge: %d != %d", id1, id2)
	}
	order, err := engine.Order(id1)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Quantity.Cmp(toWad(2500)) != 0 {
		t.Fatalf("quantity = %s, want %s", order.Quantity, toWad(2500))
	}
	// Default paired price for a buy sits 10% above the limit.
	if order.PairedPrice.Cmp(toWad(99)) != 0 {
		t.Fatalf("paired = %s, want %s", order.PairedPrice, toWad(99))
	}
	if got := engine.Market(AssetQuote).TotalDeposits; got.Cmp(toWad(2500)) != 0 {
		t.Fatalf("total deposits = %s", got)
	}
	if emitter.countType(EventTypeDeposit) != 2 {
		t.Fatalf("deposit events = %d, want 2", emitter.countType(EventTypeDeposit))
	}

	// An explicit paired price on a merging deposit retargets the order.
	if _, err := engine.Deposit("alice", toWad(100), toWad(90), SideBuy, toWad(120)); err != nil {
		t.Fatalf("merge with paired: %v", err)
	}
	order, _ = engine.Order(id1)
	if order.PairedPrice.Cmp(toWad(120)) != 0 {
		t.Fatalf("paired after merge = %s, want %s", order.PairedPrice, toWad(120))
	}
	// Omitting it again keeps the maker's choice.
	if _, err := engine.Deposit("alice", toWad(100), toWad(90), SideBuy, nil); err != nil {
		t.Fatalf("merge without paired: %v", err)
	}
	order, _ = engine.Order(id1)
	if order.PairedPrice.Cmp(toWad(120)) != 0 {
		t.Fatalf("paired after plain merge = %s, want %s", order.PairedPrice, toWad(120))
	}
	checkVaultBacking(t, engine)
}

func TestDepositValidation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)

	if _, err := engine.Deposit("alice", big.NewInt(0), toWad(90), SideBuy, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidQuantity)
	}
	if _, err := engine.Deposit("alice", toWad(100), big.NewInt(0), SideBuy, nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidPrice)
	}
	// A buy's paired price must sit above the limit.
	if _, err := engine.Deposit("alice", toWad(100), toWad(90), SideBuy, toWad(85)); !errors.Is(err, ErrInvalidPairedPrice) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidPairedPrice)
	}
	// Unfunded makers cannot deposit.
	if _, err := engine.Deposit("bob", toWad(100), toWad(90), SideBuy, nil); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAvailable)
	}
}

func TestWithdrawRoundTrip(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)

	id, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Withdraw("alice", id, toWad(2000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := engine.Order(id); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("order should be gone, got %v", err)
	}
	acc := engine.AccountBalance("alice")
	if acc.BalanceQuote.Cmp(toWad(10_000)) != 0 {
		t.Fatalf("balance = %s, want full round trip", acc.BalanceQuote)
	}
	if engine.Market(AssetQuote).TotalDeposits.Sign() != 0 {
		t.Fatal("total deposits must return to zero")
	}
	checkVaultBacking(t, engine)
}

func TestWithdrawGuards(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	id, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.Withdraw("mallory", id, toWad(100)); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("err = %v, want %v", err, ErrUnauthorizedCaller)
	}
	if err := engine.Withdraw("alice", id, toWad(3000)); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAvailable)
	}
	// A partial withdrawal may not leave the order below the residual floor.
	if err := engine.Withdraw("alice", id, toWad(1950)); !errors.Is(err, ErrFloorBreach) {
		t.Fatalf("err = %v, want %v", err, ErrFloorBreach)
	}
	// Emptying the order entirely is exempt from the floor.
	if err := engine.Withdraw("alice", id, toWad(2000)); err != nil {
		t.Fatalf("full withdraw: %v", err)
	}
}

func TestBorrowAndRepay(t *testing.T) {
	engine, _, _, emitter := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	mustFund(t, engine, "bob", AssetBase, 100)

	orderID, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Deposit("bob", toWad(30), toWad(110), SideSell, nil); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}

	positionID, err := engine.Borrow("bob", orderID, toWad(1000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := engine.AccountBalance("bob").BalanceQuote; got.Cmp(toWad(1000)) != 0 {
		t.Fatalf("borrowed funds = %s, want %s", got, toWad(1000))
	}
	order, _ := engine.Order(orderID)
	if order.Borrowed.Cmp(toWad(1000)) != 0 {
		t.Fatalf("borrowed = %s", order.Borrowed)
	}
	if engine.Market(AssetQuote).TotalBorrows.Cmp(toWad(1000)) != 0 {
		t.Fatalf("total borrows = %s", engine.Market(AssetQuote).TotalBorrows)
	}
	checkVaultBacking(t, engine)

	// Overpayment aborts without touching the position.
	if err := engine.Repay("bob", positionID, toWad(1500)); !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientAvailable)
	}
	position, err := engine.Position(positionID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Principal.Cmp(toWad(1000)) != 0 {
		t.Fatalf("principal = %s after failed repay", position.Principal)
	}

	if err := engine.Repay("bob", positionID, toWad(500)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	position, _ = engine.Position(positionID)
	if position.Principal.Cmp(toWad(500)) != 0 {
		t.Fatalf("principal = %s, want %s", position.Principal, toWad(500))
	}

	if err := engine.Repay("bob", positionID, toWad(500)); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if _, err := engine.Position(positionID); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("position should be deleted, got %v", err)
	}
	if engine.IsBorrowing("bob", orderID) {
		t.Fatal("bob should no longer be borrowing")
	}
	if engine.Market(AssetQuote).TotalBorrows.Sign() != 0 {
		t.Fatal("total borrows must return to zero")
	}
	if emitter.countType(EventTypeRepay) != 2 {
		t.Fatalf("repay events = %d, want 2", emitter.countType(EventTypeRepay))
	}
	checkVaultBacking(t, engine)
}

func TestBorrowGuards(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	mustFund(t, engine, "bob", AssetBase, 100)
	mustFund(t, engine, "carol", AssetBase, 5)

	orderID, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Deposit("bob", toWad(30), toWad(110), SideSell, nil); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}

	// A draw may not push the unlent remainder below the floor.
	if _, err := engine.Borrow("bob", orderID, toWad(1950)); !errors.Is(err, ErrFloorBreach) {
		t.Fatalf("err = %v, want %v", err, ErrFloorBreach)
	}
	// The maker cannot draw on her own order.
	if _, err := engine.Borrow("alice", orderID, toWad(100)); !errors.Is(err, ErrSelfLending) {
		t.Fatalf("err = %v, want %v", err, ErrSelfLending)
	}
	// Carol's 5 base of collateral cannot secure an 11 base debt.
	if _, err := engine.Deposit("carol", toWad(5), toWad(110), SideSell, nil); err != nil {
		t.Fatalf("carol deposit: %v", err)
	}
	if _, err := engine.Borrow("carol", orderID, toWad(1000)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientCollateral)
	}
	// A cleared borrowable flag blocks new draws.
	if err := engine.ChangeBorrowable("alice", orderID, false); err != nil {
		t.Fatalf("change borrowable: %v", err)
	}
	if _, err := engine.Borrow("bob", orderID, toWad(100)); !errors.Is(err, ErrNotBorrowable) {
		t.Fatalf("err = %v, want %v", err, ErrNotBorrowable)
	}
}

func TestChangePairedPrice(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	orderID, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := engine.ChangePairedPrice("mallory", orderID, toWad(120)); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("err = %v, want %v", err, ErrUnauthorizedCaller)
	}
	// Below the limit is invalid for a buy order.
	if err := engine.ChangePairedPrice("alice", orderID, toWad(80)); !errors.Is(err, ErrInvalidPairedPrice) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidPairedPrice)
	}
	// Moving closer to the limit than the current paired price is rejected.
	if err := engine.ChangePairedPrice("alice", orderID, toWad(95)); !errors.Is(err, ErrInvalidPairedPrice) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidPairedPrice)
	}
	if err := engine.ChangePairedPrice("alice", orderID, toWad(120)); err != nil {
		t.Fatalf("change paired: %v", err)
	}
	order, _ := engine.Order(orderID)
	if order.PairedPrice.Cmp(toWad(120)) != 0 {
		t.Fatalf("paired = %s", order.PairedPrice)
	}
}

func TestChangeBorrowable(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	mustFund(t, engine, "bob", AssetBase, 100)
	orderID, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Deposit("bob", toWad(30), toWad(110), SideSell, nil); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	positionID, err := engine.Borrow("bob", orderID, toWad(500))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := engine.ChangeBorrowable("mallory", orderID, false); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("err = %v, want %v", err, ErrUnauthorizedCaller)
	}
	if err := engine.ChangeBorrowable("alice", orderID, false); err != nil {
		t.Fatalf("change borrowable: %v", err)
	}
	// The open position keeps running; only new borrows are blocked.
	if _, err := engine.Position(positionID); err != nil {
		t.Fatalf("position: %v", err)
	}
	if _, err := engine.Borrow("bob", orderID, toWad(100)); !errors.Is(err, ErrNotBorrowable) {
		t.Fatalf("err = %v, want %v", err, ErrNotBorrowable)
	}
	if err := engine.ChangeBorrowable("alice", orderID, true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if _, err := engine.Borrow("bob", orderID, toWad(100)); err != nil {
		t.Fatalf("borrow after re-enable: %v", err)
	}
}

func TestActionPauses(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	engine.SetPauses(common.ActionPauses{Deposit: true})

	if _, err := engine.Deposit("alice", toWad(100), toWad(90), SideBuy, nil); !errors.Is(err, common.ErrActionPaused) {
		t.Fatalf("err = %v, want %v", err, common.ErrActionPaused)
	}
	engine.SetPauses(common.ActionPauses{})
	orderID, err := engine.Deposit("alice", toWad(100), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}

	engine.SetPauses(common.ActionPauses{PairedPrice: true, Borrowable: true})
	if err := engine.ChangePairedPrice("alice", orderID, toWad(150)); !errors.Is(err, common.ErrActionPaused) {
		t.Fatalf("err = %v, want %v", err, common.ErrActionPaused)
	}
	if err := engine.ChangeBorrowable("alice", orderID, false); !errors.Is(err, common.ErrActionPaused) {
		t.Fatalf("err = %v, want %v", err, common.ErrActionPaused)
	}
	engine.SetPauses(common.ActionPauses{})
	if err := engine.ChangeBorrowable("alice", orderID, false); err != nil {
		t.Fatalf("change borrowable after unpause: %v", err)
	}
}

func TestAccrualGrowsDebtAndDeposit(t *testing.T) {
	engine, clock, _, _ := newTestEngine(t, 100)
	mustFund(t, engine, "alice", AssetQuote, 10_000)
	mustFund(t, engine, "bob", AssetBase, 100)

	orderID, err := engine.Deposit("alice", toWad(2000), toWad(90), SideBuy, nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.Deposit("bob", toWad(30), toWad(110), SideSell, nil); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	positionID, err := engine.Borrow("bob", orderID, toWad(1000))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	clock.advance(secondsPerYear)

	// Repaying one wei forces an accrual touch.
	if err := engine.Repay("bob", positionID, big.NewInt(1)); err != nil {
		t.Fatalf("touch repay: %v", err)
	}
	position, err := engine.Position(positionID)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Principal.Cmp(toWad(1000)) <= 0 {
		t.Fatalf("principal = %s, expected interest growth past %s", position.Principal, toWad(1000))
	}
	order, _ := engine.Order(orderID)
	// The lender's deposit grows by exactly the borrower's interest.
	growth := new(big.Int).Sub(order.Quantity, toWad(2000))
	owed := new(big.Int).Sub(position.Principal, new(big.Int).Sub(toWad(1000), big.NewInt(1)))
	if growth.Cmp(owed) != 0 {
		t.Fatalf("deposit growth %s != accrued interest %s", growth, owed)
	}
	if order.Borrowed.Cmp(order.Quantity) > 0 {
		t.Fatal("borrowed may never exceed quantity")
	}
	checkVaultBacking(t, engine)
}
