package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed pulls quotes from an external price endpoint that responds with a
// JSON body of the form {"price": "101.25", "timestamp": 1756684800}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When client is nil
// http.DefaultClient is used. The API key is optional and only attached to
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: strings.TrimSpace(apiKey)}
}

func (f *HTTPFeed) Quote() (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("oracle: http feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: http feed decode: %w", err)
	}
	price := strings.TrimSpace(payload.Price)
	if price == "" {
		return Quote{}, fmt.Errorf("oracle: http feed returned empty price")
	}
	rat, ok := new(big.Rat).SetString(price)
	if !ok || rat.Sign() <= 0 {
		return Quote{}, fmt.Errorf("oracle: http feed returned invalid price %q", payload.Price)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return Quote{Price: new(big.Int).Quo(rat.Num(), rat.Denom()), Timestamp: ts, Source: "http"}, nil
}
