package lnurl

import (
	"context"
	"errors"
	"time"

	"lnurlpos/internal/cache"
	"lnurlpos/internal/errs"
	"lnurlpos/internal/logging"
)

// ParamsProvider caches the pay parameters of one endpoint.
type ParamsProvider struct {
	endpoint Endpoint
	client   *Client
	cache    *cache.Timed[PayParams]
}

// NewParamsProvider creates a provider for endpoint.
func NewParamsProvider(endpoint Endpoint, client *Client, ttl time.Duration) *ParamsProvider {
	return &ParamsProvider{
		endpoint: endpoint,
		client:   client,
		cache:    cache.NewTimed[PayParams](ttl),
	}
}

// Endpoint returns the service endpoint this provider serves.
func (p *ParamsProvider) Endpoint() Endpoint {
	return p.endpoint
}

// Cache exposes the underlying slot.
func (p *ParamsProvider) Cache() *cache.Timed[PayParams] {
	return p.cache
}

// Get returns the current pay parameters.
func (p *ParamsProvider) Get(ctx context.Context) (PayParams, error) {
	return p.cache.GetOrRefresh(ctx, p.fetch)
}

func (p *ParamsProvider) fetch(ctx context.Context) (PayParams, error) {
	logging.LNURL.Debugw("fetching pay params", "endpoint", p.endpoint.URL())

	params, err := p.client.FetchPayParams(ctx, p.endpoint)
	if err != nil {
		var se *errs.ServiceError
		if errors.As(err, &se) {
			logging.LNURL.Warnw("service refused pay params", "reason", se.Reason)
		} else {
			logging.LNURL.Warnw("pay params fetch failed", "error", err)
		}
		return PayParams{}, err
	}

	logging.LNURL.Infow("pay params refreshed",
		"min_sendable", uint64(params.MinSendable),
		"max_sendable", uint64(params.MaxSendable))
	return params, nil
}
