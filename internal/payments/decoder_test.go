package payments

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestNetworkFor(t *testing.T) {
	tests := []struct {
		payReq string
		want   *chaincfg.Params
	}{
		{"lnbc1500n1...", &chaincfg.MainNetParams},
		{"LNBC1500N1...", &chaincfg.MainNetParams},
		{"lnbcrt1500n1...", &chaincfg.RegressionNetParams},
		{"lntb1500n1...", &chaincfg.TestNet3Params},
		{"lntbs1500n1...", &chaincfg.SigNetParams},
		{"lnsb1500n1...", &chaincfg.SimNetParams},
	}

	for _, tc := range tests {
		got, err := NetworkFor(tc.payReq)
		if err != nil {
			t.Fatalf("NetworkFor(%q) failed: %v", tc.payReq, err)
		}
		if got.Name != tc.want.Name {
			t.Errorf("NetworkFor(%q) = %s, want %s", tc.payReq, got.Name, tc.want.Name)
		}
	}

	if _, err := NetworkFor("lnxyz1..."); err == nil {
		t.Error("expected unknown prefix to fail")
	}
}

func TestBolt11Decoder_SignedInvoice(t *testing.T) {
	f := newFakeService(t)
	f.expiry = 10 * time.Minute

	pr, hash, err := f.mint(27148000)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	for _, input := range []string{pr, "lightning:" + pr} {
		decoded, err := Bolt11Decoder{}.Decode(input)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.AmountMsat != 27148000 {
			t.Errorf("AmountMsat = %d", decoded.AmountMsat)
		}
		if decoded.PaymentHash.String() != hash {
			t.Errorf("PaymentHash = %s, want %s", decoded.PaymentHash, hash)
		}
		if decoded.Expiry != 10*time.Minute {
			t.Errorf("Expiry = %v", decoded.Expiry)
		}
	}
}

func TestBolt11Decoder_Garbage(t *testing.T) {
	for _, input := range []string{"", "lnbcrt1notaninvoice", "hello"} {
		if _, err := (Bolt11Decoder{}).Decode(input); err == nil {
			t.Errorf("Decode(%q) should fail", input)
		}
	}
}
