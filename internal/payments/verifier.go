package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/lnurl"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/store"
)

// State is the position of a verification in its lifecycle.
type State int

const (
	Polling State = iota
	Settled
	Expired
	ProtocolError
	InternalError
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Settled:
		return "settled"
	case Expired:
		return "expired"
	case ProtocolError:
		return "protocol_error"
	case InternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a verification.
func (s State) Terminal() bool {
	return s != Polling
}

// StateOf maps the error returned by Verifier.Verify to the terminal state
// it represents.
func StateOf(err error) State {
	switch {
	case err == nil:
		return Settled
	case errors.Is(err, errs.ErrExpired):
		return Expired
	case errors.Is(err, errs.ErrInvalidPreimage),
		errors.Is(err, errs.ErrPreimageMismatch),
		errors.Is(err, errs.ErrServiceError):
		return ProtocolError
	default:
		return InternalError
	}
}

// ErrorPolicy decides what a status ERROR answer from the verify URL does.
type ErrorPolicy string

const (
	// ErrorPolicyRetry waits ErrorInterval and polls again.
	ErrorPolicyRetry ErrorPolicy = "retry"
	// ErrorPolicyFail ends verification with errs.ErrServiceError.
	ErrorPolicyFail ErrorPolicy = "fail"
)

// ParseErrorPolicy validates a configured policy name.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(s); p {
	case ErrorPolicyRetry, ErrorPolicyFail:
		return p, nil
	case "":
		return ErrorPolicyRetry, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// VerifierConfig holds the poll timing.
type VerifierConfig struct {
	PendingInterval time.Duration // wait after a not-yet-settled answer
	ErrorInterval   time.Duration // wait after a status ERROR answer
	TransientDelay  time.Duration // wait after a transport or parse failure
	ErrorPolicy     ErrorPolicy
}

// DefaultVerifierConfig returns the standard timing.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		PendingInterval: time.Second,
		ErrorInterval:   10 * time.Second,
		TransientDelay:  0,
		ErrorPolicy:     ErrorPolicyRetry,
	}
}

// Verifier polls verify URLs until an invoice settles or expires.
type Verifier struct {
	lnurl *lnurl.Client
	store store.Store
	cfg   VerifierConfig
}

// NewVerifier creates a verifier recording settlements in st.
func NewVerifier(client *lnurl.Client, st store.Store, cfg VerifierConfig) *Verifier {
	if cfg.ErrorPolicy == "" {
		cfg.ErrorPolicy = ErrorPolicyRetry
	}
	return &Verifier{lnurl: client, store: st, cfg: cfg}
}

// Verify polls inv's verify URL until the invoice is settled with a valid
// preimage, the invoice expiry (counted from now) elapses, or ctx ends.
//
// A settlement is recorded before Verify returns. The insert is detached
// from ctx, so a caller that stops waiting does not cut it short.
func (v *Verifier) Verify(ctx context.Context, inv *Invoice) (*store.Payment, error) {
	hash := inv.PaymentHash.String()
	deadline := time.Now().Add(inv.Expiry)

	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	logging.Verify.Infow("verification started", "payment_hash", hash, "expiry", inv.Expiry)

	for attempt := 1; ; attempt++ {
		resp, err := v.lnurl.CheckSettlement(pollCtx, inv.VerifyURL)

		var wait time.Duration
		var se *errs.ServiceError
		switch {
		case errors.As(err, &se):
			if v.cfg.ErrorPolicy == ErrorPolicyFail {
				logging.Verify.Warnw("service reported error", "payment_hash", hash, "reason", se.Reason)
				return nil, fmt.Errorf("verify: %w", err)
			}
			logging.Verify.Debugw("service reported error, retrying",
				"payment_hash", hash, "reason", se.Reason, "attempt", attempt)
			wait = v.cfg.ErrorInterval

		case err != nil:
			if pollCtx.Err() != nil {
				return nil, v.stopped(ctx, inv)
			}
			logging.Verify.Debugw("transient poll failure", "payment_hash", hash, "error", err, "attempt", attempt)
			wait = v.cfg.TransientDelay

		case resp.Settled:
			return v.settle(ctx, inv, resp.Preimage)

		default:
			wait = v.cfg.PendingInterval
		}

		if err := sleep(pollCtx, wait); err != nil {
			return nil, v.stopped(ctx, inv)
		}
	}
}

// stopped explains why polling ended without a settlement.
func (v *Verifier) stopped(ctx context.Context, inv *Invoice) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	logging.Verify.Infow("invoice expired", "payment_hash", inv.PaymentHash.String())
	return fmt.Errorf("%w after %s", errs.ErrExpired, inv.Expiry)
}

func (v *Verifier) settle(ctx context.Context, inv *Invoice, preimage *string) (*store.Payment, error) {
	hash := inv.PaymentHash.String()

	if err := CheckPreimage(preimage, inv.PaymentHash); err != nil {
		logging.Verify.Warnw("settlement rejected", "payment_hash", hash, "error", err)
		return nil, err
	}

	p := &store.Payment{
		ID:         hash,
		AmountFiat: inv.AmountFiat,
		AmountMsat: inv.AmountMsat,
		CreatedAt:  time.Now().UnixMilli(),
	}
	inserted, err := v.store.InsertPayment(context.WithoutCancel(ctx), p)
	if err != nil {
		logging.Verify.Errorw("CRITICAL: settled payment not recorded", "payment_hash", hash, "error", err)
		return nil, err
	}

	logging.Verify.Infow("payment settled", "payment_hash", hash,
		"amount_msat", p.AmountMsat, "new_record", inserted)
	return p, nil
}

// CheckPreimage accepts preimage only if it is 32 bytes of hex whose
// SHA-256 equals hash.
func CheckPreimage(preimage *string, hash lntypes.Hash) error {
	if preimage == nil || *preimage == "" {
		return fmt.Errorf("%w: missing", errs.ErrInvalidPreimage)
	}
	p, err := lntypes.MakePreimageFromStr(*preimage)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidPreimage, err)
	}
	if !p.Matches(hash) {
		return fmt.Errorf("%w: hash %s", errs.ErrPreimageMismatch, p.Hash())
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
