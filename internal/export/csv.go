// Package export renders the payment history as CSV and stores the result
// on local disk or in a B2 bucket.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"lnurlpos/internal/store"
)

// DateLayout formats the Date column, e.g. "March-20-12:00".
const DateLayout = "January-02-15:04"

// WriteCSV writes one row per payment, in the order given, with running
// totals. Fiat amounts are minor units rendered with two decimals; satoshi
// columns drop the sub-satoshi part. Dates are shown in loc, or local time
// when loc is nil.
func WriteCSV(w io.Writer, currencyCode string, payments []*store.Payment, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	cw := csv.NewWriter(w)
	header := []string{"Nr", currencyCode, "Satoshis", "Sum-" + currencyCode, "Sum-Satoshis", "Date"}
	if err := cw.Write(header); err != nil {
		return err
	}

	var sumFiat int64
	var sumMsat uint64
	for i, p := range payments {
		sumFiat += p.AmountFiat
		sumMsat += p.AmountMsat

		row := []string{
			strconv.Itoa(i + 1),
			fiat(p.AmountFiat),
			strconv.FormatUint(p.AmountMsat/1000, 10),
			fiat(sumFiat),
			strconv.FormatUint(sumMsat/1000, 10),
			p.Time().In(loc).Format(DateLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func fiat(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
