package store

import (
	"context"
	"time"
)

// Payment is a settled, verified invoice. ID is the hex payment hash.
type Payment struct {
	ID         string
	AmountFiat int64  // minor units of the profile currency
	AmountMsat uint64 // invoice amount
	CreatedAt  int64  // unix milliseconds
}

// Time returns CreatedAt as a time.Time.
func (p *Payment) Time() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

// PendingInvoice is an invoice whose settlement is still being verified.
// It is kept so verification can resume after a restart.
type PendingInvoice struct {
	PaymentHash    string
	PaymentRequest string
	VerifyURL      string
	AmountMsat     uint64
	AmountFiat     int64
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// DayTotal sums the payments of one UTC day.
type DayTotal struct {
	Day        string // 2006-01-02
	Count      int
	AmountFiat int64
	AmountMsat uint64
}

// Stats contains aggregate statistics about recorded payments.
type Stats struct {
	TotalPayments   int
	PendingInvoices int
	AmountFiat      int64
	AmountMsat      uint64
	OldestPayment   time.Time
	NewestPayment   time.Time
	Daily           []DayTotal // last StatsDays days, oldest first, days without payments omitted
}

// StatsDays is how many days GetStats breaks down.
const StatsDays = 14

// Store defines the interface for payment persistence.
type Store interface {
	// InsertPayment records p unless a payment with the same ID exists.
	// inserted reports whether a row was written.
	InsertPayment(ctx context.Context, p *Payment) (inserted bool, err error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListPayments(ctx context.Context) ([]*Payment, error)
	DeletePayments(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)

	SavePendingInvoice(ctx context.Context, inv *PendingInvoice) error
	DeletePendingInvoice(ctx context.Context, paymentHash string) error
	ListPendingInvoices(ctx context.Context) ([]*PendingInvoice, error)

	Close() error
}
