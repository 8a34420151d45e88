package storage

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"lendbook/native/lendbook"
)

func TestSnapshotRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	now := time.Unix(1_700_000_000, 0).Unix()
	state := lendbook.NewState(now)
	state.NextOrderID = 7
	state.Orders[3] = &lendbook.Order{
		ID:          3,
		Owner:       "alice",
		Side:        lendbook.SideBuy,
		Price:       big.NewInt(90),
		PairedPrice: big.NewInt(99),
		Quantity:    big.NewInt(2000),
		Borrowed:    big.NewInt(500),
		Borrowable:  true,
	}
	state.Quote.TotalDeposits = big.NewInt(2000)
	state.Quote.TotalBorrows = big.NewInt(500)

	if err := SaveSnapshot(db, state); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	restored, err := LoadSnapshot(db)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if restored.NextOrderID != 7 {
		t.Fatalf("next order id = %d, want 7", restored.NextOrderID)
	}
	order := restored.Orders[3]
	if order == nil {
		t.Fatal("order 3 missing after restore")
	}
	if order.Owner != "alice" || order.Quantity.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("order mismatch: %+v", order)
	}
	if restored.Quote.TotalBorrows.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("total borrows = %s, want 500", restored.Quote.TotalBorrows)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	if _, err := LoadSnapshot(db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	stored, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored) != "original" {
		t.Fatalf("stored = %q, want original", stored)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrNotFound)
	}
}
