// Package httpjson performs the small JSON GET requests the engine makes and
// classifies their failures into transport and schema errors.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"lnurlpos/internal/errs"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// NewClient returns an http.Client with the given per-request timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Get fetches url and returns the raw body.
//
// A body that carries an LNURL error object ({"status":"ERROR"}) is reported
// as *errs.ServiceError whatever the HTTP status. Other non-2xx responses and
// transport problems are errs.ErrNetworkFailure.
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", errs.ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errs.ErrNetworkFailure, err)
	}

	if err := ServiceStatus(body); err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", errs.ErrNetworkFailure, resp.StatusCode)
	}

	return body, nil
}

// ServiceStatus returns *errs.ServiceError when body is an LNURL error
// response, nil otherwise.
func ServiceStatus(body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	status := gjson.GetBytes(body, "status")
	if !strings.EqualFold(status.String(), "ERROR") {
		return nil
	}
	return &errs.ServiceError{Reason: gjson.GetBytes(body, "reason").String()}
}

// Decode unmarshals body into out, reporting schema problems as
// errs.ErrParseFailure.
func Decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrParseFailure, err)
	}
	return nil
}

// GetInto is Get followed by Decode.
func GetInto(ctx context.Context, client *http.Client, url string, out any) error {
	body, err := Get(ctx, client, url)
	if err != nil {
		return err
	}
	return Decode(body, out)
}
