package oracle

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func wad(units int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), scale)
}

func TestManualSetDecimal(t *testing.T) {
	feed := NewManual()
	if err := feed.SetDecimal("101.5", time.Unix(1000, 0)); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	quote, err := feed.Quote()
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := new(big.Int).Add(wad(101), new(big.Int).Div(wad(1), big.NewInt(2)))
	if quote.Price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", quote.Price, want)
	}
	if quote.Source != "manual" {
		t.Fatalf("source = %q, want manual", quote.Source)
	}
}

func TestManualRejectsBadInput(t *testing.T) {
	feed := NewManual()
	if err := feed.SetDecimal("", time.Now()); err == nil {
		t.Fatal("expected error for empty price")
	}
	if err := feed.SetDecimal("-5", time.Now()); err == nil {
		t.Fatal("expected error for negative price")
	}
	if _, err := feed.Quote(); err == nil {
		t.Fatal("expected error before any price is set")
	}
}

func TestAggregatorPriority(t *testing.T) {
	now := time.Unix(5000, 0)
	primary := NewManual()
	secondary := NewManual()
	secondary.Set(wad(90), now)

	agg := NewAggregator([]string{"primary", "secondary"}, time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("primary", primary)
	agg.Register("secondary", secondary)

	// Primary has no quote yet, so the secondary wins.
	quote, err := agg.Quote()
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Price.Cmp(wad(90)) != 0 {
		t.Fatalf("price = %s, want %s", quote.Price, wad(90))
	}

	primary.Set(wad(100), now)
	quote, err = agg.Quote()
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Price.Cmp(wad(100)) != 0 {
		t.Fatalf("price = %s, want %s", quote.Price, wad(100))
	}
	if quote.Source != "manual" {
		t.Fatalf("source = %q, want manual", quote.Source)
	}
}

func TestAggregatorRejectsStaleQuotes(t *testing.T) {
	now := time.Unix(10_000, 0)
	feed := NewManual()
	feed.Set(wad(100), now.Add(-2*time.Minute))

	agg := NewAggregator([]string{"manual"}, time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("manual", feed)

	if _, err := agg.Quote(); err != ErrNoFreshQuote {
		t.Fatalf("err = %v, want %v", err, ErrNoFreshQuote)
	}

	feed.Set(wad(100), now.Add(-30*time.Second))
	if _, err := agg.Quote(); err != nil {
		t.Fatalf("quote: %v", err)
	}
	last, ok := agg.LastQuote()
	if !ok {
		t.Fatal("expected a recorded last quote")
	}
	if last.Price.Cmp(wad(100)) != 0 {
		t.Fatalf("last price = %s, want %s", last.Price, wad(100))
	}
}

func TestAggregatorCurrentPrice(t *testing.T) {
	feed := NewManual()
	feed.Set(wad(42), time.Now())
	agg := NewAggregator(nil, 0)
	agg.Register("manual", feed)

	price, err := agg.CurrentPrice()
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if price.Cmp(wad(42)) != 0 {
		t.Fatalf("price = %s, want %s", price, wad(42))
	}
}

func TestHTTPFeedQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"101.25","timestamp":1756684800}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), server.URL, "secret")
	quote, err := feed.Quote()
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want := new(big.Int).Add(wad(101), new(big.Int).Div(wad(1), big.NewInt(4)))
	if quote.Price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", quote.Price, want)
	}
	if quote.Timestamp.Unix() != 1756684800 {
		t.Fatalf("timestamp = %d", quote.Timestamp.Unix())
	}
}

func TestHTTPFeedErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	feed := NewHTTPFeed(server.Client(), server.URL, "")
	if _, err := feed.Quote(); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
