package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/logging"
)

var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using SQLite.
//
// The database is used through a single connection and writes additionally
// hold mu, so a reader never observes a half-applied write.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, storageErr(err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr(err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, storageErr(err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", errs.ErrStorageFailure, err)
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payment (
			id TEXT PRIMARY KEY,
			amount_fiat INTEGER NOT NULL,
			amount_msat INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS payment_created_at ON payment (created_at)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_invoice (
			payment_hash TEXT PRIMARY KEY,
			payment_request TEXT NOT NULL,
			verify_url TEXT NOT NULL,
			amount_msat INTEGER NOT NULL,
			amount_fiat INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	return err
}

// InsertPayment records p and drops the matching pending invoice in the same
// transaction. A second insert with the same ID is a no-op.
func (s *SQLiteStore) InsertPayment(ctx context.Context, p *Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr(err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO payment (id, amount_fiat, amount_msat, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.AmountFiat, int64(p.AmountMsat), p.CreatedAt)
	if err != nil {
		return false, storageErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_invoice WHERE payment_hash = ?`, p.ID); err != nil {
		return false, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr(err)
	}

	if rows == 0 {
		logging.Store.Debugw("payment already recorded", "id", p.ID)
	}
	return rows == 1, nil
}

func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount_fiat, amount_msat, created_at
		FROM payment WHERE id = ?
	`, id)

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var p Payment
	var msat int64
	if err := row.Scan(&p.ID, &p.AmountFiat, &msat, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.AmountMsat = uint64(msat)
	return &p, nil
}

// ListPayments returns every payment, newest first.
func (s *SQLiteStore) ListPayments(ctx context.Context) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount_fiat, amount_msat, created_at
		FROM payment ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return payments, nil
}

// DeletePayments removes the whole payment history and returns how many
// rows were deleted.
func (s *SQLiteStore) DeletePayments(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM payment`)
	if err != nil {
		return 0, storageErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr(err)
	}
	logging.Store.Infow("payment history cleared", "deleted", n)
	return n, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount_fiat), 0),
			COALESCE(SUM(amount_msat), 0),
			COALESCE(MIN(created_at), 0),
			COALESCE(MAX(created_at), 0)
		FROM payment
	`)

	var msat, oldest, newest int64
	if err := row.Scan(&stats.TotalPayments, &stats.AmountFiat, &msat, &oldest, &newest); err != nil {
		return nil, storageErr(err)
	}
	stats.AmountMsat = uint64(msat)
	if stats.TotalPayments > 0 {
		stats.OldestPayment = time.UnixMilli(oldest)
		stats.NewestPayment = time.UnixMilli(newest)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_invoice`)
	if err := row.Scan(&stats.PendingInvoices); err != nil {
		return nil, storageErr(err)
	}

	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(StatsDays - 1))

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			strftime('%Y-%m-%d', created_at / 1000, 'unixepoch') AS day,
			COUNT(*),
			SUM(amount_fiat),
			SUM(amount_msat)
		FROM payment
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day
	`, since.UnixMilli())
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DayTotal
		var dayMsat int64
		if err := rows.Scan(&d.Day, &d.Count, &d.AmountFiat, &dayMsat); err != nil {
			return nil, storageErr(err)
		}
		d.AmountMsat = uint64(dayMsat)
		stats.Daily = append(stats.Daily, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	return stats, nil
}

// SavePendingInvoice stores inv, replacing an earlier entry for the same hash.
func (s *SQLiteStore) SavePendingInvoice(ctx context.Context, inv *PendingInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_invoice
			(payment_hash, payment_request, verify_url, amount_msat, amount_fiat, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inv.PaymentHash, inv.PaymentRequest, inv.VerifyURL, int64(inv.AmountMsat), inv.AmountFiat,
		inv.ExpiresAt.UnixMilli(), inv.CreatedAt.UnixMilli())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// DeletePendingInvoice removes the entry for paymentHash. Deleting a missing
// entry is not an error.
func (s *SQLiteStore) DeletePendingInvoice(ctx context.Context, paymentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_invoice WHERE payment_hash = ?`, paymentHash); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *SQLiteStore) ListPendingInvoices(ctx context.Context) ([]*PendingInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_hash, payment_request, verify_url, amount_msat, amount_fiat, expires_at, created_at
		FROM pending_invoice ORDER BY created_at
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var invoices []*PendingInvoice
	for rows.Next() {
		var inv PendingInvoice
		var msat, expiresAt, createdAt int64
		if err := rows.Scan(&inv.PaymentHash, &inv.PaymentRequest, &inv.VerifyURL,
			&msat, &inv.AmountFiat, &expiresAt, &createdAt); err != nil {
			return nil, storageErr(err)
		}
		inv.AmountMsat = uint64(msat)
		inv.ExpiresAt = time.UnixMilli(expiresAt)
		inv.CreatedAt = time.UnixMilli(createdAt)
		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return invoices, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
