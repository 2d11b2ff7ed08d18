package payments

import (
	"time"

	"github.com/lightningnetwork/lnd/lntypes"

	"lnurlpos/internal/store"
)

// Invoice is a decoded payment request bound to the URL that reports its
// settlement.
type Invoice struct {
	Raw         string // BOLT11 encoded invoice
	AmountMsat  uint64
	AmountFiat  int64 // minor units, kept for bookkeeping
	PaymentHash lntypes.Hash
	Expiry      time.Duration // relative to CreatedAt
	VerifyURL   string
	CreatedAt   time.Time
}

// ExpiresAt is when the invoice stops being payable.
func (i *Invoice) ExpiresAt() time.Time {
	return i.CreatedAt.Add(i.Expiry)
}

// Sats returns the amount in whole satoshis.
func (i *Invoice) Sats() uint64 {
	return i.AmountMsat / 1000
}

func (i *Invoice) pending() *store.PendingInvoice {
	return &store.PendingInvoice{
		PaymentHash:    i.PaymentHash.String(),
		PaymentRequest: i.Raw,
		VerifyURL:      i.VerifyURL,
		AmountMsat:     i.AmountMsat,
		AmountFiat:     i.AmountFiat,
		ExpiresAt:      i.ExpiresAt(),
		CreatedAt:      i.CreatedAt,
	}
}

// DecodedInvoice holds the BOLT11 fields the engine relies on.
type DecodedInvoice struct {
	AmountMsat  uint64 // zero when the invoice carries no amount
	PaymentHash lntypes.Hash
	Timestamp   time.Time
	Expiry      time.Duration
}

// Decoder parses BOLT11 payment requests.
type Decoder interface {
	Decode(payReq string) (*DecodedInvoice, error)
}
