package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"lnurlpos/internal/logging"
	"lnurlpos/internal/store"
)

// Result describes a stored export.
type Result struct {
	Name string
	Size int64
	URL  string // empty unless the storage serves exports publicly
}

// Exporter renders payment histories and hands them to a Storage.
type Exporter struct {
	storage Storage
	loc     *time.Location
	now     func() time.Time
}

// NewExporter creates an exporter writing dates in loc.
func NewExporter(storage Storage, loc *time.Location) *Exporter {
	return &Exporter{storage: storage, loc: loc, now: time.Now}
}

// FileName names an export taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("payments-%s.csv", t.UTC().Format("20060102-150405"))
}

// Export renders payments and stores them under a timestamped name.
func (e *Exporter) Export(ctx context.Context, currencyCode string, payments []*store.Payment) (*Result, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, currencyCode, payments, e.loc); err != nil {
		return nil, err
	}

	name := FileName(e.now())
	size, err := e.storage.Save(ctx, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return nil, fmt.Errorf("store export %s: %w", name, err)
	}

	res := &Result{Name: name, Size: size}
	if p, ok := e.storage.(PublicURLProvider); ok {
		res.URL = p.GetPublicURL(name)
	}

	logging.Export.Infow("export stored", "name", name, "payments", len(payments), "bytes", size)
	return res, nil
}
