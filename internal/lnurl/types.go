package lnurl

import (
	"bytes"
	"fmt"
	"strconv"
)

// Millisats is an amount in millisatoshis. Services disagree on whether to
// send it as a JSON number or a numeric string; both are accepted.
type Millisats uint64

func (m *Millisats) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid millisatoshi amount %q: %w", data, err)
	}
	*m = Millisats(v)
	return nil
}

// PayParams is the first response of LNURL-pay.
type PayParams struct {
	// Callback is the URL from LN SERVICE which will accept the pay request
	// parameters.
	Callback string `json:"callback"`

	// MinSendable is the min amount LN SERVICE is willing to receive.
	MinSendable Millisats `json:"minSendable"`

	// MaxSendable is the max amount LN SERVICE is willing to receive.
	MaxSendable Millisats `json:"maxSendable"`

	// Tag is "payRequest" for LNURL-pay. Older services omit it.
	Tag string `json:"tag,omitempty"`
}

// TagPayRequest identifies an LNURL-pay response.
const TagPayRequest = "payRequest"

func (p PayParams) validate() error {
	if p.Callback == "" {
		return fmt.Errorf("missing callback")
	}
	if err := checkServiceURL(p.Callback); err != nil {
		return fmt.Errorf("invalid callback: %w", err)
	}
	if p.MinSendable > p.MaxSendable {
		return fmt.Errorf("minSendable %d exceeds maxSendable %d",
			p.MinSendable, p.MaxSendable)
	}
	if p.Tag != "" && p.Tag != TagPayRequest {
		return fmt.Errorf("unexpected tag %q", p.Tag)
	}
	return nil
}

// InvoiceResponse is the callback's answer.
type InvoiceResponse struct {
	// PayRequest is a bech32-serialized lightning invoice.
	PayRequest string `json:"pr"`

	// Verify is the LUD-21 URL that reports the invoice's settlement.
	Verify string `json:"verify"`
}

// Status values of the verify endpoint.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// VerifyResponse is the verify endpoint's answer for a status of OK.
type VerifyResponse struct {
	Status   string  `json:"status"`
	Settled  bool    `json:"settled"`
	Preimage *string `json:"preimage"`
	PR       string  `json:"pr"`
}

// ErrorResponse is the LNURL error object.
type ErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
