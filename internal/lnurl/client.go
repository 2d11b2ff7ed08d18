package lnurl

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/httpjson"
	"lnurlpos/internal/logging"
)

// Client speaks the client side of LNURL-pay and LUD-21 verify.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client. A nil httpClient selects one with the default
// per-request timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpjson.NewClient(0)
	}
	return &Client{httpClient: httpClient}
}

// FetchPayParams reads the service's callback and sendable bounds.
func (c *Client) FetchPayParams(ctx context.Context, endpoint Endpoint) (PayParams, error) {
	var params PayParams
	if err := httpjson.GetInto(ctx, c.httpClient, endpoint.URL(), &params); err != nil {
		return PayParams{}, fmt.Errorf("fetch pay params: %w", err)
	}
	if err := params.validate(); err != nil {
		return PayParams{}, fmt.Errorf("fetch pay params: %w: %w", errs.ErrParseFailure, err)
	}
	return params, nil
}

// CallbackURL appends the amount to the service callback, joining with "&"
// when the callback already carries a query.
func CallbackURL(callback string, amountMsat uint64) string {
	delim := "?"
	if strings.Contains(callback, "?") {
		delim = "&"
	}
	return fmt.Sprintf("%s%samount=%d", callback, delim, amountMsat)
}

// RequestInvoice asks the callback for an invoice of amountMsat.
func (c *Client) RequestInvoice(ctx context.Context, callback string, amountMsat uint64) (InvoiceResponse, error) {
	target := CallbackURL(callback, amountMsat)

	logging.LNURL.Debugw("requesting invoice", "callback", callback, "amount_msat", amountMsat)

	var resp InvoiceResponse
	if err := httpjson.GetInto(ctx, c.httpClient, target, &resp); err != nil {
		return InvoiceResponse{}, fmt.Errorf("request invoice: %w", err)
	}
	if resp.PayRequest == "" {
		return InvoiceResponse{}, fmt.Errorf("request invoice: %w: missing pr", errs.ErrParseFailure)
	}
	if resp.Verify == "" {
		return InvoiceResponse{}, fmt.Errorf("request invoice: %w: missing verify url", errs.ErrParseFailure)
	}
	if err := checkServiceURL(resp.Verify); err != nil {
		return InvoiceResponse{}, fmt.Errorf("request invoice: %w: invalid verify url: %w", errs.ErrParseFailure, err)
	}
	return resp, nil
}

// CheckSettlement polls the verify URL once. A service-reported error is
// returned as *errs.ServiceError so callers can tell it apart from
// transport and schema failures.
func (c *Client) CheckSettlement(ctx context.Context, verifyURL string) (VerifyResponse, error) {
	var resp VerifyResponse
	if err := httpjson.GetInto(ctx, c.httpClient, verifyURL, &resp); err != nil {
		return VerifyResponse{}, err
	}
	if resp.Status != StatusOK {
		return VerifyResponse{}, fmt.Errorf("%w: unexpected status %q", errs.ErrParseFailure, resp.Status)
	}
	return resp, nil
}
