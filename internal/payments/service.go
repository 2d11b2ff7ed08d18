package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/store"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// StatusRetention is how long a finished verification stays queryable.
const StatusRetention = time.Hour

// PaymentVerifier runs one verification to its end.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, inv *Invoice) (*store.Payment, error)
}

// DoneCallback is called once per tracked invoice when its verification
// ends, whatever the outcome.
type DoneCallback func(st *Status)

// Status is the observable progress of one tracked invoice.
type Status struct {
	Invoice    *Invoice
	State      State
	Err        error          // set for failed terminal states
	Payment    *store.Payment // set once settled
	FinishedAt time.Time
}

// Watcher verifies many invoices concurrently on behalf of a long-running
// server. Unfinished invoices are persisted so a restart resumes them.
type Watcher struct {
	verifier PaymentVerifier
	store    store.Store

	mu      sync.RWMutex
	base    context.Context
	tracked map[string]*Status // keyed by payment hash
	onDone  DoneCallback
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher.
func NewWatcher(verifier PaymentVerifier, st store.Store) *Watcher {
	return &Watcher{
		verifier: verifier,
		store:    st,
		base:     context.Background(),
		tracked:  make(map[string]*Status),
	}
}

// SetDoneCallback sets a function that is notified when a verification
// ends. This allows external components (like rate limiters) to release
// what they hold for the invoice.
func (w *Watcher) SetDoneCallback(cb DoneCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDone = cb
}

// Start binds verifications to ctx and resumes the invoices left pending by
// a previous run. Cancelling ctx stops polling but keeps the invoices
// persisted.
func (w *Watcher) Start(ctx context.Context) (int, error) {
	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()
	return w.LoadPendingInvoices(ctx)
}

// Track persists inv and starts verifying it in the background.
func (w *Watcher) Track(ctx context.Context, inv *Invoice) error {
	if err := w.store.SavePendingInvoice(ctx, inv.pending()); err != nil {
		return err
	}
	w.start(inv)
	return nil
}

func (w *Watcher) start(inv *Invoice) {
	hash := inv.PaymentHash.String()
	st := &Status{Invoice: inv, State: Polling}

	w.mu.Lock()
	w.pruneLocked(time.Now())
	if cur, ok := w.tracked[hash]; ok && cur.State == Polling {
		w.mu.Unlock()
		return
	}
	w.tracked[hash] = st
	base := w.base
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		p, err := w.verifier.VerifyPayment(base, inv)
		w.finish(hash, p, err)
	}()
}

func (w *Watcher) finish(hash string, p *store.Payment, err error) {
	// Settlement already cleared the row; a shutdown or a failed insert
	// keeps it for the next run.
	stopped := errors.Is(err, context.Canceled)
	if !stopped && !errors.Is(err, errs.ErrStorageFailure) {
		if derr := w.store.DeletePendingInvoice(context.Background(), hash); derr != nil {
			logging.Verify.Warnw("failed to drop pending invoice", "payment_hash", hash, "error", derr)
		}
	}

	w.mu.Lock()
	st, ok := w.tracked[hash]
	if !ok {
		w.mu.Unlock()
		return
	}
	done := &Status{
		Invoice:    st.Invoice,
		State:      StateOf(err),
		Err:        err,
		Payment:    p,
		FinishedAt: time.Now(),
	}
	w.tracked[hash] = done
	cb := w.onDone
	w.mu.Unlock()

	if stopped {
		logging.Verify.Infow("verification stopped", "payment_hash", hash)
	}

	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Internal.Errorw("done callback panic", "payment_hash", hash, "panic", r)
				}
			}()
			cb(done)
		}()
	}
}

func (w *Watcher) pruneLocked(now time.Time) {
	for hash, st := range w.tracked {
		if st.State.Terminal() && now.Sub(st.FinishedAt) > StatusRetention {
			delete(w.tracked, hash)
		}
	}
}

// Status returns a snapshot of the invoice's verification.
func (w *Watcher) Status(paymentHash string) (*Status, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	st, ok := w.tracked[paymentHash]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *st
	return &cp, nil
}

// Pending returns how many invoices are still being verified.
func (w *Watcher) Pending() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, st := range w.tracked {
		if st.State == Polling {
			n++
		}
	}
	return n
}

// LoadPendingInvoices resumes verification of persisted invoices that have
// not expired and drops the rest.
func (w *Watcher) LoadPendingInvoices(ctx context.Context) (int, error) {
	pending, err := w.store.ListPendingInvoices(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	resumed := 0
	for _, p := range pending {
		hash, err := lntypes.MakeHashFromStr(p.PaymentHash)
		remaining := p.ExpiresAt.Sub(now)
		if err != nil || remaining <= 0 {
			if err := w.store.DeletePendingInvoice(ctx, p.PaymentHash); err != nil {
				return resumed, err
			}
			continue
		}

		w.start(&Invoice{
			Raw:         p.PaymentRequest,
			AmountMsat:  p.AmountMsat,
			AmountFiat:  p.AmountFiat,
			PaymentHash: hash,
			Expiry:      remaining,
			VerifyURL:   p.VerifyURL,
			CreatedAt:   now,
		})
		resumed++
	}

	if resumed > 0 {
		logging.Verify.Infow("resumed pending invoices", "count", resumed)
	}
	return resumed, nil
}

// Wait blocks until every running verification has returned.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
