package rates

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"lnurlpos/internal/errs"
)

const (
	// BaseCurrency is the currency every other rate is quoted against.
	BaseCurrency = "USD"

	btcPair = "BTC/" + BaseCurrency
)

var (
	minorPerMajor = decimal.NewFromInt(100)
	satsPerBTC    = decimal.NewFromInt(100_000_000)

	// maxSats is the largest sat amount whose msat value fits a uint64.
	maxSats = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64/1000), 0)
)

// ToMillisats converts an amount in fiat minor units (cents) of currency code
// into millisatoshis using table.
//
// The amount goes minor → major → USD → BTC → sats. Sats are rounded to a
// whole number before scaling, so the result is always a multiple of 1000;
// some services reject invoices for fractional sats.
func ToMillisats(amountMinor int64, code string, table Table) (uint64, error) {
	if amountMinor < 0 {
		return 0, fmt.Errorf("%w: %d", errs.ErrInvalidAmount, amountMinor)
	}

	major := decimal.NewFromInt(amountMinor).Div(minorPerMajor)

	usd := major
	if code != BaseCurrency {
		rate, ok := table.Lookup(code + "/" + BaseCurrency)
		if !ok {
			return 0, &errs.CurrencyError{Code: code}
		}
		if !(rate > 0) {
			return 0, &errs.CurrencyError{Code: code}
		}
		usd = major.Mul(decimal.NewFromFloat(rate))
	}

	btcRate, ok := table.Lookup(btcPair)
	if !ok || !(btcRate > 0) {
		return 0, fmt.Errorf("%w: %s", errs.ErrRateUnavailable, btcPair)
	}
	btc := usd.Div(decimal.NewFromFloat(btcRate))

	sats := btc.Mul(satsPerBTC).Round(0)
	if sats.GreaterThan(maxSats) {
		return 0, fmt.Errorf("%w: %s sats does not fit in msat", errs.ErrInvalidAmount, sats)
	}
	return sats.BigInt().Uint64() * 1000, nil
}
