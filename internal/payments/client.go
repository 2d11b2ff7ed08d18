package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/export"
	"lnurlpos/internal/lnurl"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/rates"
	"lnurlpos/internal/store"
)

// DefaultResolveTimeout bounds Resolve.
const DefaultResolveTimeout = 30 * time.Second

// Currency describes the fiat currency amounts are entered in. Symbol and
// Name are display strings passed through untouched.
type Currency struct {
	Code   string
	Symbol string
	Name   string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint       lnurl.Endpoint
	Currency       Currency
	RateFeedURL    string
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	HTTPClient     *http.Client
	Verifier       VerifierConfig
	Decoder        Decoder
}

// Client is a point-of-sale session against one LNURL-pay service. It owns
// the rate and pay-parameter caches and shares the store with its
// verifications.
type Client struct {
	currency  Currency
	timeout   time.Duration
	rates     *rates.Provider
	params    *lnurl.ParamsProvider
	requester *Requester
	verifier  *Verifier
	store     store.Store
}

// NewClient creates a session.
func NewClient(cfg ClientConfig, st store.Store) *Client {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	lc := lnurl.NewClient(cfg.HTTPClient)

	return &Client{
		currency:  cfg.Currency,
		timeout:   cfg.ResolveTimeout,
		rates:     rates.NewProvider(cfg.RateFeedURL, cfg.HTTPClient, cfg.CacheTTL),
		params:    lnurl.NewParamsProvider(cfg.Endpoint, lc, cfg.CacheTTL),
		requester: NewRequester(lc, cfg.Decoder),
		verifier:  NewVerifier(lc, st, cfg.Verifier),
		store:     st,
	}
}

// Resolve converts amountFiat (minor units) and obtains a matching invoice.
// The whole pipeline is bounded by the resolve timeout; running past it
// yields errs.ErrTimeout even while requests are still in flight.
func (c *Client) Resolve(ctx context.Context, amountFiat int64) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		inv *Invoice
		err error
	}
	done := make(chan result, 1)
	go func() {
		inv, err := c.ResolveWithoutTimeout(ctx, amountFiat)
		done <- result{inv, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: resolve after %s: %w", errs.ErrTimeout, c.timeout, r.err)
		}
		return r.inv, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: resolve after %s", errs.ErrTimeout, c.timeout)
		}
		return nil, ctx.Err()
	}
}

// ResolveWithoutTimeout is Resolve bounded only by ctx. The rate table and
// the pay parameters are looked up concurrently.
func (c *Client) ResolveWithoutTimeout(ctx context.Context, amountFiat int64) (*Invoice, error) {
	var (
		table  rates.Table
		params lnurl.PayParams
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		table, err = c.rates.Get(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		params, err = c.params.Get(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msat, err := rates.ToMillisats(amountFiat, c.currency.Code, table)
	if err != nil {
		return nil, err
	}

	return c.requester.Request(ctx, msat, params, amountFiat)
}

// WarmHandle observes a background cache refresh.
type WarmHandle struct {
	done chan struct{}
	err  error
}

// Done is closed when the refresh has finished.
func (h *WarmHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the refresh has finished and returns its error.
func (h *WarmHandle) Wait() error {
	<-h.done
	return h.err
}

// Err returns the refresh error, or nil while it is still running.
func (h *WarmHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// UpdateCaches refreshes both caches in the background and returns at once.
// Resolve never waits for it; a failed or unfinished warm only means the
// next Resolve fetches for itself.
func (c *Client) UpdateCaches() *WarmHandle {
	h := &WarmHandle{done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)

	// Plain Group: one cache failing must not cancel the other's refresh.
	var g errgroup.Group
	g.Go(func() error {
		_, err := c.rates.Get(ctx)
		return err
	})
	g.Go(func() error {
		_, err := c.params.Get(ctx)
		return err
	})

	go func() {
		defer close(h.done)
		defer cancel()
		h.err = g.Wait()
		if h.err != nil {
			logging.Internal.Warnw("cache warm failed", "error", h.err)
		}
	}()
	return h
}

// VerifyPayment polls until inv settles and returns the recorded payment.
func (c *Client) VerifyPayment(ctx context.Context, inv *Invoice) (*store.Payment, error) {
	return c.verifier.Verify(ctx, inv)
}

// ListPayments returns the payment history, newest first.
func (c *Client) ListPayments(ctx context.Context) ([]*store.Payment, error) {
	return c.store.ListPayments(ctx)
}

// DeletePayments clears the payment history.
func (c *Client) DeletePayments(ctx context.Context) (int64, error) {
	return c.store.DeletePayments(ctx)
}

// Stats returns aggregate statistics over the payment history.
func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	return c.store.GetStats(ctx)
}

// SumAmountsFiat totals the history in fiat minor units.
func (c *Client) SumAmountsFiat(ctx context.Context) (int64, error) {
	stats, err := c.store.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.AmountFiat, nil
}

// SumAmountsMsat totals the history in millisatoshis.
func (c *Client) SumAmountsMsat(ctx context.Context) (uint64, error) {
	stats, err := c.store.GetStats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.AmountMsat, nil
}

func (c *Client) CurrencyCode() string   { return c.currency.Code }
func (c *Client) CurrencySymbol() string { return c.currency.Symbol }
func (c *Client) CurrencyName() string   { return c.currency.Name }

// Endpoint returns the LNURL-pay service this session pays into.
func (c *Client) Endpoint() lnurl.Endpoint {
	return c.params.Endpoint()
}

// ExportTransactionsCSV writes the payment history as CSV to w, dates in loc.
func (c *Client) ExportTransactionsCSV(ctx context.Context, w io.Writer, loc *time.Location) error {
	payments, err := c.store.ListPayments(ctx)
	if err != nil {
		return err
	}
	return export.WriteCSV(w, c.currency.Code, payments, loc)
}
