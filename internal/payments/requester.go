package payments

import (
	"context"
	"fmt"
	"time"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/lnurl"
	"lnurlpos/internal/logging"
)

// Requester obtains invoices from an LNURL-pay callback.
type Requester struct {
	lnurl   *lnurl.Client
	decoder Decoder
	now     func() time.Time
}

// NewRequester creates a requester. A nil decoder selects Bolt11Decoder.
func NewRequester(client *lnurl.Client, decoder Decoder) *Requester {
	if decoder == nil {
		decoder = Bolt11Decoder{}
	}
	return &Requester{lnurl: client, decoder: decoder, now: time.Now}
}

// CheckBounds reports whether amountMsat is payable under params.
func CheckBounds(amountMsat uint64, params lnurl.PayParams) error {
	if amountMsat < uint64(params.MinSendable) {
		return fmt.Errorf("%w: %d msat below minimum %d", errs.ErrAmountTooLow,
			amountMsat, params.MinSendable)
	}
	if amountMsat > uint64(params.MaxSendable) {
		return fmt.Errorf("%w: %d msat above maximum %d", errs.ErrAmountTooHigh,
			amountMsat, params.MaxSendable)
	}
	return nil
}

// Request validates amountMsat against the service bounds, asks the
// callback for an invoice and decodes it. Out-of-bounds amounts fail before
// any network access.
func (r *Requester) Request(ctx context.Context, amountMsat uint64, params lnurl.PayParams, amountFiat int64) (*Invoice, error) {
	if err := CheckBounds(amountMsat, params); err != nil {
		return nil, err
	}

	resp, err := r.lnurl.RequestInvoice(ctx, params.Callback, amountMsat)
	if err != nil {
		return nil, err
	}

	decoded, err := r.decoder.Decode(resp.PayRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: decode invoice: %w", errs.ErrParseFailure, err)
	}
	if decoded.AmountMsat == 0 {
		return nil, errs.ErrInvoiceAmountMissing
	}
	if decoded.AmountMsat != amountMsat {
		return nil, fmt.Errorf("%w: invoice amount %d msat, requested %d",
			errs.ErrParseFailure, decoded.AmountMsat, amountMsat)
	}

	inv := &Invoice{
		Raw:         resp.PayRequest,
		AmountMsat:  decoded.AmountMsat,
		AmountFiat:  amountFiat,
		PaymentHash: decoded.PaymentHash,
		Expiry:      decoded.Expiry,
		VerifyURL:   resp.Verify,
		CreatedAt:   r.now(),
	}

	logging.LNURL.Infow("invoice issued",
		"payment_hash", inv.PaymentHash.String(),
		"amount_msat", inv.AmountMsat,
		"expiry", inv.Expiry)
	return inv, nil
}
