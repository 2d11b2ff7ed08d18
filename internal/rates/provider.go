package rates

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"lnurlpos/internal/cache"
	"lnurlpos/internal/httpjson"
	"lnurlpos/internal/logging"
)

// DefaultFeedURL is the public price feed the rate table is read from.
const DefaultFeedURL = "https://price-feed.dev.fedibtc.com/latest"

// Rate is one entry of the price feed.
type Rate struct {
	Rate float64 `json:"rate"`
}

// Table is a snapshot of the price feed, keyed by pair ("EUR/USD", "BTC/USD").
// It is not modified after it has been fetched.
type Table struct {
	Prices map[string]Rate `json:"prices"`
}

// Lookup returns the rate stored under pair.
func (t Table) Lookup(pair string) (float64, bool) {
	r, ok := t.Prices[pair]
	return r.Rate, ok
}

// dropInvalid removes non-positive rates and returns their pairs.
func (t Table) dropInvalid() []string {
	var dropped []string
	for pair, r := range t.Prices {
		if !(r.Rate > 0) {
			delete(t.Prices, pair)
			dropped = append(dropped, pair)
		}
	}
	return dropped
}

// Provider serves the rate table from a TimedCache, fetching the feed when
// the cached copy is stale.
type Provider struct {
	url        string
	httpClient *http.Client
	cache      *cache.Timed[Table]
}

// NewProvider creates a provider for feedURL. An empty feedURL selects
// DefaultFeedURL.
func NewProvider(feedURL string, httpClient *http.Client, ttl time.Duration) *Provider {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if httpClient == nil {
		httpClient = httpjson.NewClient(0)
	}
	return &Provider{
		url:        feedURL,
		httpClient: httpClient,
		cache:      cache.NewTimed[Table](ttl),
	}
}

// Cache exposes the underlying slot.
func (p *Provider) Cache() *cache.Timed[Table] {
	return p.cache
}

// Get returns the current rate table.
func (p *Provider) Get(ctx context.Context) (Table, error) {
	return p.cache.GetOrRefresh(ctx, p.fetch)
}

func (p *Provider) fetch(ctx context.Context) (Table, error) {
	logging.Rates.Debugw("fetching exchange rates", "url", p.url)

	var table Table
	if err := httpjson.GetInto(ctx, p.httpClient, p.url, &table); err != nil {
		logging.Rates.Warnw("exchange rate fetch failed", "error", err)
		return Table{}, fmt.Errorf("fetch exchange rates: %w", err)
	}
	if dropped := table.dropInvalid(); len(dropped) > 0 {
		logging.Rates.Warnw("ignoring non-positive rates", "pairs", dropped)
	}

	logging.Rates.Infow("exchange rates refreshed", "pairs", len(table.Prices))
	return table, nil
}
