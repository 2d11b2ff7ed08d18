package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lnurlpos/internal/logging"
)

// statusRecorder remembers the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// isStatusPoll matches GET /api/invoices/{hash}, which terminals hit every
// second while a customer pays.
func isStatusPoll(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/invoices/")
}

// Logger wraps a handler with request logging. Status polls are only logged
// when they fail.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if isStatusPoll(r) && rec.status < http.StatusBadRequest {
			return
		}
		logging.HTTP.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"ip", extractIP(r),
			"duration", time.Since(start))
	})
}

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowedOrigins []string // empty allows all
}

// CORS adds CORS headers, restricted to AllowedOrigins when set.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if len(allowed) == 0 {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
				}
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitConfig sets the per-IP token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	// Invoice creation costs a round trip to the LNURL service and is
	// limited separately.
	InvoicesPerMinute float64
	InvoiceBurstSize  int
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		InvoicesPerMinute: 30,
		InvoiceBurstSize:  5,
	}
}

// buckets hands out one limiter per client IP.
type buckets struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byIP  map[string]*rate.Limiter
}

func newBuckets(limit rate.Limit, burst int) *buckets {
	return &buckets{limit: limit, burst: burst, byIP: make(map[string]*rate.Limiter)}
}

func (b *buckets) allow(ip string) bool {
	b.mu.Lock()
	l, ok := b.byIP[ip]
	if !ok {
		l = rate.NewLimiter(b.limit, b.burst)
		b.byIP[ip] = l
	}
	b.mu.Unlock()
	return l.Allow()
}

// RateLimit rejects clients that exceed their bucket with 429.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	general := newBuckets(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)
	invoices := newBuckets(rate.Limit(cfg.InvoicesPerMinute/60), cfg.InvoiceBurstSize)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)

			b := general
			if r.Method == http.MethodPost && r.URL.Path == "/api/invoices" {
				b = invoices
			}
			if !b.allow(ip) {
				logging.HTTP.Warnw("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client address, preferring the first
// X-Forwarded-For hop and X-Real-IP set by a reverse proxy.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
