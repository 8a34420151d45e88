// Package oracle supplies the reference price the book checks takes and
// liquidations against. A Feed produces timestamped quotes for the single
// base/quote pair the book trades; the Aggregator consults feeds in priority
// order and enforces a freshness window.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Quote is a single observed price, denominated in quote asset per one unit of
// base asset at 18 decimals.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy so callers cannot mutate stored samples.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed resolves the current market price for the book's pair.
type Feed interface {
	Quote() (Quote, error)
}

// ErrNoFreshQuote indicates no feed produced a quote inside the freshness
// window.
var ErrNoFreshQuote = errors.New("oracle: no fresh quote available")

// Manual is an in-memory feed used for tests and operator overrides during
// incident response.
type Manual struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

// NewManual constructs an empty manual feed.
func NewManual() *Manual {
	return &Manual{}
}

// Set stores the supplied price with the given observation time.
func (m *Manual) Set(price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.quote = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.set = true
	m.mu.Unlock()
}

// SetDecimal parses a decimal string such as "101.25" and stores it scaled to
// 18 decimals.
func (m *Manual) SetDecimal(price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("oracle: manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	m.Set(new(big.Int).Quo(rat.Num(), rat.Denom()), ts)
	return nil
}

// Quote returns the stored price.
func (m *Manual) Quote() (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("oracle: manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Quote{}, ErrNoFreshQuote
	}
	return m.quote.Clone(), nil
}

// Aggregator consults registered feeds in priority order until one yields a
// positive quote inside the freshness window.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	nowFn    func() time.Time
	last     Quote
	hasLast  bool
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window. A zero maxAge disables staleness filtering.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// Register adds or replaces a feed under the supplied identifier. Unknown
// identifiers are appended to the priority list so the feed is still consulted.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetNowFunc overrides the clock; used by tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Quote fetches a price respecting the priority ordering. The returned quote
// is a defensive copy.
func (a *Aggregator) Quote() (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle: aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[strings.ToLower(name)]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.Quote()
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned invalid price", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		a.mu.Lock()
		a.last = result.Clone()
		a.hasLast = true
		a.mu.Unlock()
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

// CurrentPrice satisfies the book engine's price source contract.
func (a *Aggregator) CurrentPrice() (*big.Int, error) {
	quote, err := a.Quote()
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// LastQuote reports the most recent successfully served quote, if any. Useful
// for health endpoints.
func (a *Aggregator) LastQuote() (Quote, bool) {
	if a == nil {
		return Quote{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasLast {
		return Quote{}, false
	}
	return a.last.Clone(), true
}
