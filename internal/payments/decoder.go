package payments

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// networks maps invoice prefixes to chain parameters. Longer prefixes come
// first so "lnbcrt" is not taken for mainnet and "lntbs" not for testnet.
var networks = []struct {
	prefix string
	params *chaincfg.Params
}{
	{"lnbcrt", &chaincfg.RegressionNetParams},
	{"lnbc", &chaincfg.MainNetParams},
	{"lntbs", &chaincfg.SigNetParams},
	{"lntb", &chaincfg.TestNet3Params},
	{"lnsb", &chaincfg.SimNetParams},
}

// NetworkFor returns the chain parameters matching payReq's prefix.
func NetworkFor(payReq string) (*chaincfg.Params, error) {
	lower := strings.ToLower(payReq)
	for _, n := range networks {
		if strings.HasPrefix(lower, n.prefix) {
			return n.params, nil
		}
	}
	return nil, fmt.Errorf("unknown invoice network")
}

// Bolt11Decoder decodes invoices with zpay32, picking the network from the
// invoice prefix.
type Bolt11Decoder struct{}

func (Bolt11Decoder) Decode(payReq string) (*DecodedInvoice, error) {
	payReq = strings.TrimSpace(payReq)
	if len(payReq) > 10 && strings.EqualFold(payReq[:10], "lightning:") {
		payReq = payReq[10:]
	}

	net, err := NetworkFor(payReq)
	if err != nil {
		return nil, err
	}

	inv, err := zpay32.Decode(payReq, net)
	if err != nil {
		return nil, err
	}
	if inv.PaymentHash == nil {
		return nil, fmt.Errorf("invoice has no payment hash")
	}

	decoded := &DecodedInvoice{
		PaymentHash: *inv.PaymentHash,
		Timestamp:   inv.Timestamp,
		Expiry:      inv.Expiry(),
	}
	if inv.MilliSat != nil {
		decoded.AmountMsat = uint64(*inv.MilliSat)
	}
	return decoded, nil
}
