// Package errs holds the failure kinds shared by the resolution and
// verification engine. Callers match them with errors.Is; the boundary layer
// turns them into messages.
package errs

import "errors"

var (
	ErrInvalidIdentifier    = errors.New("invalid identifier")
	ErrNetworkFailure       = errors.New("network failure")
	ErrParseFailure         = errors.New("parse failure")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrRateUnavailable      = errors.New("rate unavailable")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAmountTooLow         = errors.New("amount too low")
	ErrAmountTooHigh        = errors.New("amount too high")
	ErrInvoiceAmountMissing = errors.New("invoice amount missing")
	ErrInvalidPreimage      = errors.New("invalid preimage")
	ErrPreimageMismatch     = errors.New("preimage mismatch")
	ErrExpired              = errors.New("invoice expired")
	ErrTimeout              = errors.New("timeout")
	ErrServiceError         = errors.New("service error")
	ErrStorageFailure       = errors.New("storage failure")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidIdentifier, "invalid_identifier"},
	{ErrNetworkFailure, "network_failure"},
	{ErrParseFailure, "parse_failure"},
	{ErrUnsupportedCurrency, "unsupported_currency"},
	{ErrRateUnavailable, "rate_unavailable"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrAmountTooLow, "amount_too_low"},
	{ErrAmountTooHigh, "amount_too_high"},
	{ErrInvoiceAmountMissing, "invoice_amount_missing"},
	{ErrInvalidPreimage, "invalid_preimage"},
	{ErrPreimageMismatch, "preimage_mismatch"},
	{ErrExpired, "expired"},
	{ErrTimeout, "timeout"},
	{ErrServiceError, "service_error"},
	{ErrStorageFailure, "storage_failure"},
}

// KindOf returns a stable identifier for the first known kind in err's chain,
// "internal" for anything else and "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// CurrencyError carries the code that had no rate entry.
type CurrencyError struct {
	Code string
}

func (e *CurrencyError) Error() string {
	return ErrUnsupportedCurrency.Error() + ": " + e.Code
}

func (e *CurrencyError) Unwrap() error {
	return ErrUnsupportedCurrency
}

// ServiceError carries the reason reported by a service that answered with
// status ERROR.
type ServiceError struct {
	Reason string
}

func (e *ServiceError) Error() string {
	if e.Reason == "" {
		return ErrServiceError.Error()
	}
	return ErrServiceError.Error() + ": " + e.Reason
}

func (e *ServiceError) Unwrap() error {
	return ErrServiceError
}
