package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/lnurl"
	"lnurlpos/internal/store"
)

var testPreimage = lntypes.Preimage{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}

// verifyServer answers the n-th poll (starting at 1) with body(n).
func verifyServer(t *testing.T, body func(n int32) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		b := body(n)
		if b == "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(b))
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testVerifierConfig() VerifierConfig {
	return VerifierConfig{
		PendingInterval: 5 * time.Millisecond,
		ErrorInterval:   20 * time.Millisecond,
		ErrorPolicy:     ErrorPolicyRetry,
	}
}

func testInvoice(verifyURL string, expiry time.Duration) *Invoice {
	return &Invoice{
		Raw:         "lnbcrt1fake",
		AmountMsat:  27148000,
		AmountFiat:  1234,
		PaymentHash: testPreimage.Hash(),
		Expiry:      expiry,
		VerifyURL:   verifyURL,
		CreatedAt:   time.Now(),
	}
}

func settledBody(preimage string) string {
	return fmt.Sprintf(`{"status":"OK","settled":true,"preimage":%q,"pr":"lnbcrt1fake"}`, preimage)
}

const pendingBody = `{"status":"OK","settled":false,"preimage":null,"pr":"lnbcrt1fake"}`

func TestVerifier_Settles(t *testing.T) {
	srv, polls := verifyServer(t, func(n int32) string {
		if n < 3 {
			return pendingBody
		}
		return settledBody(testPreimage.String())
	})
	st := newTestStore(t)
	v := NewVerifier(lnurl.NewClient(nil), st, testVerifierConfig())

	p, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if StateOf(err) != Settled {
		t.Errorf("state = %s", StateOf(err))
	}
	if polls.Load() != 3 {
		t.Errorf("expected 3 polls, got %d", polls.Load())
	}

	if p.ID != testPreimage.Hash().String() || p.AmountFiat != 1234 || p.AmountMsat != 27148000 {
		t.Errorf("unexpected record %+v", p)
	}
	got, err := st.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("payment not recorded: %v", err)
	}
	if got.CreatedAt != p.CreatedAt {
		t.Errorf("stored %+v, returned %+v", got, p)
	}
}

func TestVerifier_PreimageMismatch(t *testing.T) {
	zero := strings.Repeat("00", 32)
	srv, _ := verifyServer(t, func(int32) string { return settledBody(zero) })
	st := newTestStore(t)
	v := NewVerifier(lnurl.NewClient(nil), st, testVerifierConfig())

	_, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute))
	if !errors.Is(err, errs.ErrPreimageMismatch) {
		t.Fatalf("expected ErrPreimageMismatch, got %v", err)
	}
	if StateOf(err) != ProtocolError {
		t.Errorf("state = %s, want protocol_error", StateOf(err))
	}

	payments, _ := st.ListPayments(context.Background())
	if len(payments) != 0 {
		t.Errorf("expected no record, got %d", len(payments))
	}
}

func TestVerifier_InvalidPreimage(t *testing.T) {
	bodies := map[string]string{
		"null":     `{"status":"OK","settled":true,"preimage":null,"pr":""}`,
		"missing":  `{"status":"OK","settled":true}`,
		"short":    settledBody("abcd"),
		"not hex":  settledBody(strings.Repeat("zz", 32)),
		"too long": settledBody(strings.Repeat("00", 33)),
		"empty":    settledBody(""),
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv, _ := verifyServer(t, func(int32) string { return body })
			st := newTestStore(t)
			v := NewVerifier(lnurl.NewClient(nil), st, testVerifierConfig())

			_, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute))
			if !errors.Is(err, errs.ErrInvalidPreimage) {
				t.Fatalf("expected ErrInvalidPreimage, got %v", err)
			}
			payments, _ := st.ListPayments(context.Background())
			if len(payments) != 0 {
				t.Errorf("expected no record, got %d", len(payments))
			}
		})
	}
}

func TestVerifier_ExpiresUnderContinuousError(t *testing.T) {
	srv, polls := verifyServer(t, func(int32) string {
		return `{"status":"ERROR","reason":"backend unavailable"}`
	})
	v := NewVerifier(lnurl.NewClient(nil), newTestStore(t), testVerifierConfig())

	start := time.Now()
	_, err := v.Verify(context.Background(), testInvoice(srv.URL, 200*time.Millisecond))
	elapsed := time.Since(start)

	if !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if StateOf(err) != Expired {
		t.Errorf("state = %s", StateOf(err))
	}
	if elapsed > 2*time.Second {
		t.Errorf("verification outlived its expiry: %v", elapsed)
	}
	if polls.Load() < 2 {
		t.Errorf("expected the error to be retried, got %d polls", polls.Load())
	}
}

func TestVerifier_ExpiresWhilePending(t *testing.T) {
	srv, _ := verifyServer(t, func(int32) string { return pendingBody })
	cfg := testVerifierConfig()
	cfg.PendingInterval = time.Hour // the sleep must be clipped to the deadline
	v := NewVerifier(lnurl.NewClient(nil), newTestStore(t), cfg)

	start := time.Now()
	_, err := v.Verify(context.Background(), testInvoice(srv.URL, 100*time.Millisecond))
	if !errors.Is(err, errs.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("sleep was not clipped to the deadline")
	}
}

func TestVerifier_FailPolicy(t *testing.T) {
	srv, polls := verifyServer(t, func(int32) string {
		return `{"status":"ERROR","reason":"invoice unknown"}`
	})
	cfg := testVerifierConfig()
	cfg.ErrorPolicy = ErrorPolicyFail
	v := NewVerifier(lnurl.NewClient(nil), newTestStore(t), cfg)

	_, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute))
	var se *errs.ServiceError
	if !errors.As(err, &se) || se.Reason != "invoice unknown" {
		t.Fatalf("expected service error with reason, got %v", err)
	}
	if StateOf(err) != ProtocolError {
		t.Errorf("state = %s", StateOf(err))
	}
	if polls.Load() != 1 {
		t.Errorf("expected a single poll, got %d", polls.Load())
	}
}

func TestVerifier_TransientFailuresRetried(t *testing.T) {
	srv, polls := verifyServer(t, func(n int32) string {
		switch n {
		case 1:
			return "" // 502
		case 2:
			return "not json"
		case 3:
			return `{"status":"OK","settled":"maybe"}`
		default:
			return settledBody(testPreimage.String())
		}
	})
	v := NewVerifier(lnurl.NewClient(nil), newTestStore(t), testVerifierConfig())

	if _, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute)); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if polls.Load() != 4 {
		t.Errorf("expected 4 polls, got %d", polls.Load())
	}
}

func TestVerifier_ContextCancelled(t *testing.T) {
	srv, _ := verifyServer(t, func(int32) string { return pendingBody })
	v := NewVerifier(lnurl.NewClient(nil), newTestStore(t), testVerifierConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := v.Verify(ctx, testInvoice(srv.URL, time.Minute))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the caller's context error, got %v", err)
	}
	if errors.Is(err, errs.ErrExpired) {
		t.Error("caller cancellation must not look like invoice expiry")
	}
	if StateOf(err) != InternalError {
		t.Errorf("state = %s", StateOf(err))
	}
}

func TestVerifier_DuplicateSettlementIsIdempotent(t *testing.T) {
	srv, _ := verifyServer(t, func(int32) string { return settledBody(testPreimage.String()) })
	st := newTestStore(t)
	v := NewVerifier(lnurl.NewClient(nil), st, testVerifierConfig())

	for i := 0; i < 2; i++ {
		if _, err := v.Verify(context.Background(), testInvoice(srv.URL, time.Minute)); err != nil {
			t.Fatalf("verify %d failed: %v", i, err)
		}
	}

	payments, _ := st.ListPayments(context.Background())
	if len(payments) != 1 {
		t.Errorf("expected one record, got %d", len(payments))
	}
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		err  error
		want State
	}{
		{nil, Settled},
		{fmt.Errorf("wrapped: %w", errs.ErrExpired), Expired},
		{errs.ErrInvalidPreimage, ProtocolError},
		{errs.ErrPreimageMismatch, ProtocolError},
		{&errs.ServiceError{Reason: "x"}, ProtocolError},
		{errs.ErrStorageFailure, InternalError},
		{context.Canceled, InternalError},
	}

	for _, tc := range tests {
		if got := StateOf(tc.err); got != tc.want {
			t.Errorf("StateOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if Polling.Terminal() || !Expired.Terminal() {
		t.Error("only Polling is non-terminal")
	}
}

func TestParseErrorPolicy(t *testing.T) {
	for in, want := range map[string]ErrorPolicy{"": ErrorPolicyRetry, "retry": ErrorPolicyRetry, "fail": ErrorPolicyFail} {
		got, err := ParseErrorPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseErrorPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseErrorPolicy("ignore"); err == nil {
		t.Error("expected unknown policy to be rejected")
	}
}
