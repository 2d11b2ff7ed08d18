package api

import (
	"sync"
	"time"
)

// PendingInvoiceLimiter caps the number of unpaid invoices one IP address
// may hold open at once, so a client cannot flood the LNURL service with
// invoices it never pays.
type PendingInvoiceLimiter struct {
	mu          sync.RWMutex
	maxPending  int
	pendingByIP map[string]map[string]time.Time // IP -> payment hash -> tracked time
	hashToIP    map[string]string               // payment hash -> IP
}

// NewPendingInvoiceLimiter creates a limiter allowing maxPending open
// invoices per IP.
func NewPendingInvoiceLimiter(maxPending int) *PendingInvoiceLimiter {
	return &PendingInvoiceLimiter{
		maxPending:  maxPending,
		pendingByIP: make(map[string]map[string]time.Time),
		hashToIP:    make(map[string]string),
	}
}

// CanCreate reports whether ip is under the limit.
func (l *PendingInvoiceLimiter) CanCreate(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pendingByIP[ip]) < l.maxPending
}

// PendingCount returns the number of open invoices for ip.
func (l *PendingInvoiceLimiter) PendingCount(ip string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pendingByIP[ip])
}

// MaxPending returns the configured maximum.
func (l *PendingInvoiceLimiter) MaxPending() int {
	return l.maxPending
}

// TrackPendingInvoice records an open invoice for ip.
func (l *PendingInvoiceLimiter) TrackPendingInvoice(ip, paymentHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.hashToIP[paymentHash]; ok && prev != ip {
		l.removeLocked(paymentHash)
	}
	if l.pendingByIP[ip] == nil {
		l.pendingByIP[ip] = make(map[string]time.Time)
	}
	l.pendingByIP[ip][paymentHash] = time.Now()
	l.hashToIP[paymentHash] = ip
}

// OnInvoiceDone releases an invoice once its verification has ended,
// whether it settled, expired or failed.
func (l *PendingInvoiceLimiter) OnInvoiceDone(paymentHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeLocked(paymentHash)
}

func (l *PendingInvoiceLimiter) removeLocked(paymentHash string) {
	ip, ok := l.hashToIP[paymentHash]
	if !ok {
		return
	}

	delete(l.hashToIP, paymentHash)
	if hashes := l.pendingByIP[ip]; hashes != nil {
		delete(hashes, paymentHash)
		if len(hashes) == 0 {
			delete(l.pendingByIP, ip)
		}
	}
}

// CleanupExpired removes entries tracked longer than maxAge and returns
// how many were removed.
func (l *PendingInvoiceLimiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for ip, hashes := range l.pendingByIP {
		for hash, trackedAt := range hashes {
			if trackedAt.Before(cutoff) {
				delete(hashes, hash)
				delete(l.hashToIP, hash)
				removed++
			}
		}
		if len(hashes) == 0 {
			delete(l.pendingByIP, ip)
		}
	}

	return removed
}
