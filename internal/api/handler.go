package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/export"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/payments"
	"lnurlpos/internal/store"
)

var validHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Session is the part of *payments.Client the API serves.
type Session interface {
	Resolve(ctx context.Context, amountFiat int64) (*payments.Invoice, error)
	UpdateCaches() *payments.WarmHandle
	ListPayments(ctx context.Context) ([]*store.Payment, error)
	DeletePayments(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*store.Stats, error)
	ExportTransactionsCSV(ctx context.Context, w io.Writer, loc *time.Location) error
	CurrencyCode() string
	CurrencySymbol() string
	CurrencyName() string
}

// Tracker is the part of *payments.Watcher the API serves.
type Tracker interface {
	Track(ctx context.Context, inv *payments.Invoice) error
	Status(paymentHash string) (*payments.Status, error)
}

// Handler handles HTTP requests.
type Handler struct {
	session        Session
	tracker        Tracker
	exporter       *export.Exporter
	pendingLimiter *PendingInvoiceLimiter
	loc            *time.Location
	mux            *http.ServeMux
}

// NewHandler creates a new HTTP handler.
// If pendingLimiter is nil, no per-IP pending invoice limit is enforced.
func NewHandler(session Session, tracker Tracker, pendingLimiter *PendingInvoiceLimiter) *Handler {
	h := &Handler{
		session:        session,
		tracker:        tracker,
		pendingLimiter: pendingLimiter,
		loc:            time.Local,
		mux:            http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// SetExporter enables POST /api/exports.
func (h *Handler) SetExporter(e *export.Exporter) {
	h.exporter = e
}

// SetLocation sets the time zone of exported dates.
func (h *Handler) SetLocation(loc *time.Location) {
	h.loc = loc
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/currency", h.handleCurrency)
	h.mux.HandleFunc("POST /api/invoices", h.handleCreateInvoice)
	h.mux.HandleFunc("GET /api/invoices/{hash}", h.handleInvoiceStatus)
	h.mux.HandleFunc("POST /api/caches/refresh", h.handleRefreshCaches)
	h.mux.HandleFunc("GET /api/payments", h.handleListPayments)
	h.mux.HandleFunc("DELETE /api/payments", h.handleDeletePayments)
	h.mux.HandleFunc("GET /api/payments/summary", h.handleSummary)
	h.mux.HandleFunc("GET /api/payments/export.csv", h.handleExportCSV)
	h.mux.HandleFunc("POST /api/exports", h.handleStoreExport)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind string) int {
	switch kind {
	case "invalid_identifier", "invalid_amount", "unsupported_currency":
		return http.StatusBadRequest
	case "amount_too_low", "amount_too_high":
		return http.StatusUnprocessableEntity
	case "network_failure", "parse_failure", "service_error", "invoice_amount_missing",
		"invalid_preimage", "preimage_mismatch":
		return http.StatusBadGateway
	case "rate_unavailable":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "expired":
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTP.Warnw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	resp := ErrorResponse{Error: kind}
	if status == http.StatusInternalServerError {
		logging.HTTP.Errorw("request failed", "error", err)
	} else {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Detail: detail})
}

// CurrencyResponse describes the configured currency.
type CurrencyResponse struct {
	Code   string `json:"code"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func (h *Handler) handleCurrency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrencyResponse{
		Code:   h.session.CurrencyCode(),
		Symbol: h.session.CurrencySymbol(),
		Name:   h.session.CurrencyName(),
	})
}

// CreateInvoiceRequest is the request body for a new invoice.
type CreateInvoiceRequest struct {
	AmountFiat int64 `json:"amount_fiat"` // minor units
}

// InvoiceResponse describes an issued invoice.
type InvoiceResponse struct {
	PaymentRequest string    `json:"payment_request"`
	PaymentHash    string    `json:"payment_hash"`
	AmountMsat     uint64    `json:"amount_msat"`
	AmountSats     uint64    `json:"amount_sats"`
	AmountFiat     int64     `json:"amount_fiat"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func invoiceResponse(inv *payments.Invoice) InvoiceResponse {
	return InvoiceResponse{
		PaymentRequest: inv.Raw,
		PaymentHash:    inv.PaymentHash.String(),
		AmountMsat:     inv.AmountMsat,
		AmountSats:     inv.Sats(),
		AmountFiat:     inv.AmountFiat,
		ExpiresAt:      inv.ExpiresAt(),
	}
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ip := extractIP(r)

	if h.pendingLimiter != nil && !h.pendingLimiter.CanCreate(ip) {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "too_many_pending",
			Detail: fmt.Sprintf("%d unpaid invoice(s) outstanding (max %d)",
				h.pendingLimiter.PendingCount(ip), h.pendingLimiter.MaxPending()),
		})
		return
	}

	var req CreateInvoiceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.AmountFiat <= 0 {
		writeError(w, fmt.Errorf("%w: amount must be positive", errs.ErrInvalidAmount))
		return
	}

	inv, err := h.session.Resolve(r.Context(), req.AmountFiat)
	if err != nil {
		writeError(w, err)
		return
	}

	// The entry must exist before verification starts, or a verification
	// that ends at once would release it too early.
	hash := inv.PaymentHash.String()
	limited := h.pendingLimiter != nil && ip != ""
	if limited {
		h.pendingLimiter.TrackPendingInvoice(ip, hash)
	}
	if err := h.tracker.Track(r.Context(), inv); err != nil {
		if limited {
			h.pendingLimiter.OnInvoiceDone(hash)
		}
		writeError(w, err)
		return
	}

	logging.HTTP.Infow("invoice created", "payment_hash", hash,
		"amount_fiat", inv.AmountFiat, "amount_msat", inv.AmountMsat)
	writeJSON(w, http.StatusCreated, invoiceResponse(inv))
}

// StatusResponse reports an invoice's verification.
type StatusResponse struct {
	State   string         `json:"state"`
	Error   string         `json:"error,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Payment *PaymentRecord `json:"payment,omitempty"`
}

func (h *Handler) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !validHashPattern.MatchString(hash) {
		badRequest(w, "invalid payment hash")
		return
	}

	st, err := h.tracker.Status(hash)
	if errors.Is(err, payments.ErrInvoiceNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := StatusResponse{State: st.State.String()}
	if st.Err != nil {
		resp.Error = errs.KindOf(st.Err)
		resp.Detail = st.Err.Error()
	}
	if st.Payment != nil {
		p := paymentRecord(st.Payment)
		resp.Payment = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefreshCaches(w http.ResponseWriter, r *http.Request) {
	h.session.UpdateCaches()
	w.WriteHeader(http.StatusAccepted)
}

// PaymentRecord is the JSON form of a settled payment.
type PaymentRecord struct {
	ID         string    `json:"id"`
	AmountFiat int64     `json:"amount_fiat"`
	AmountMsat uint64    `json:"amount_msat"`
	CreatedAt  time.Time `json:"created_at"`
}

func paymentRecord(p *store.Payment) PaymentRecord {
	return PaymentRecord{
		ID:         p.ID,
		AmountFiat: p.AmountFiat,
		AmountMsat: p.AmountMsat,
		CreatedAt:  p.Time().UTC(),
	}
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	list, err := h.session.ListPayments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]PaymentRecord, 0, len(list))
	for _, p := range list {
		resp = append(resp, paymentRecord(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeletePayments(w http.ResponseWriter, r *http.Request) {
	n, err := h.session.DeletePayments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// SummaryResponse aggregates the payment history.
type SummaryResponse struct {
	Currency        string     `json:"currency"`
	Payments        int        `json:"payments"`
	PendingInvoices int        `json:"pending_invoices"`
	AmountFiat      int64      `json:"amount_fiat"`
	AmountMsat      uint64     `json:"amount_msat"`
	Oldest          *time.Time `json:"oldest,omitempty"`
	Newest          *time.Time `json:"newest,omitempty"`
	Daily           []DayTotal `json:"daily"`
}

// DayTotal is one day of the summary.
type DayTotal struct {
	Day        string `json:"day"`
	Payments   int    `json:"payments"`
	AmountFiat int64  `json:"amount_fiat"`
	AmountMsat uint64 `json:"amount_msat"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.session.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := SummaryResponse{
		Currency:        h.session.CurrencyCode(),
		Payments:        stats.TotalPayments,
		PendingInvoices: stats.PendingInvoices,
		AmountFiat:      stats.AmountFiat,
		AmountMsat:      stats.AmountMsat,
		Daily:           make([]DayTotal, 0, len(stats.Daily)),
	}
	if !stats.OldestPayment.IsZero() {
		oldest, newest := stats.OldestPayment.UTC(), stats.NewestPayment.UTC()
		resp.Oldest, resp.Newest = &oldest, &newest
	}
	for _, d := range stats.Daily {
		resp.Daily = append(resp.Daily, DayTotal{
			Day:        d.Day,
			Payments:   d.Count,
			AmountFiat: d.AmountFiat,
			AmountMsat: d.AmountMsat,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, export.FileName(time.Now())))

	if err := h.session.ExportTransactionsCSV(r.Context(), w, h.loc); err != nil {
		// Headers may already be sent; nothing more can be reported.
		logging.HTTP.Errorw("csv export failed", "error", err)
	}
}

// ExportResponse describes a stored export.
type ExportResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

func (h *Handler) handleStoreExport(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "export_not_configured"})
		return
	}

	list, err := h.session.ListPayments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.exporter.Export(r.Context(), h.session.CurrencyCode(), list)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ExportResponse{Name: res.Name, Size: res.Size, URL: res.URL})
}
