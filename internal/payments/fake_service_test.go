package payments

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"

	"lnurlpos/internal/lnurl"
)

// fakeService is an LNURL-pay service with a rate feed. It mints real
// regtest invoices signed with a throwaway key and settles them on demand.
type fakeService struct {
	t   *testing.T
	srv *httptest.Server
	key *btcec.PrivateKey

	minSendable uint64
	maxSendable uint64
	expiry      time.Duration
	rates       string

	mu       sync.Mutex
	invoices map[string]*fakeInvoice // keyed by payment hash
	lastPR   string

	rateHits   atomic.Int32
	paramsHits atomic.Int32
	cbHits     atomic.Int32
}

type fakeInvoice struct {
	preimage lntypes.Preimage
	settled  bool
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	f := &fakeService{
		t:           t,
		key:         key,
		minSendable: 1000,
		maxSendable: 1_000_000_000,
		expiry:      time.Hour,
		rates:       `{"prices":{"BTC/USD":{"rate":25000.0},"EUR/USD":{"rate":1.1}}}`,
		invoices:    make(map[string]*fakeInvoice),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rates", func(w http.ResponseWriter, r *http.Request) {
		f.rateHits.Add(1)
		w.Write([]byte(f.rates))
	})
	mux.HandleFunc("/lnurlp", func(w http.ResponseWriter, r *http.Request) {
		f.paramsHits.Add(1)
		fmt.Fprintf(w, `{"tag":"payRequest","callback":%q,"minSendable":%d,"maxSendable":%d}`,
			f.srv.URL+"/cb", f.minSendable, f.maxSendable)
	})
	mux.HandleFunc("/cb", f.handleCallback)
	mux.HandleFunc("/verify/", f.handleVerify)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) endpoint() lnurl.Endpoint {
	encoded, err := lnurl.EncodeURL(f.srv.URL + "/lnurlp")
	if err != nil {
		f.t.Fatalf("encode lnurl: %v", err)
	}
	return lnurl.MustParseIdentifier("lightning:" + encoded)
}

func (f *fakeService) clientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:    f.endpoint(),
		Currency:    Currency{Code: "USD", Symbol: "$", Name: "US Dollar"},
		RateFeedURL: f.srv.URL + "/rates",
		Verifier: VerifierConfig{
			PendingInterval: 10 * time.Millisecond,
			ErrorInterval:   20 * time.Millisecond,
			ErrorPolicy:     ErrorPolicyRetry,
		},
	}
}

func (f *fakeService) handleCallback(w http.ResponseWriter, r *http.Request) {
	f.cbHits.Add(1)

	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		w.Write([]byte(`{"status":"ERROR","reason":"bad amount"}`))
		return
	}

	pr, hash, err := f.mint(amount)
	if err != nil {
		f.t.Errorf("mint invoice: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(lnurl.InvoiceResponse{
		PayRequest: pr,
		Verify:     f.srv.URL + "/verify/" + hash,
	})
}

func (f *fakeService) mint(amountMsat uint64) (string, string, error) {
	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return "", "", err
	}
	hash := preimage.Hash()

	inv, err := zpay32.NewInvoice(
		&chaincfg.RegressionNetParams, hash, time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amountMsat)),
		zpay32.Description("lnurlpos test"),
		zpay32.Expiry(f.expiry),
	)
	if err != nil {
		return "", "", err
	}

	pr, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(f.key, chainhash.HashB(msg), true), nil
		},
	})
	if err != nil {
		return "", "", err
	}

	f.mu.Lock()
	f.invoices[hash.String()] = &fakeInvoice{preimage: preimage}
	f.lastPR = pr
	f.mu.Unlock()
	return pr, hash.String(), nil
}

func (f *fakeService) handleVerify(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/verify/")

	f.mu.Lock()
	inv, ok := f.invoices[hash]
	var settled bool
	var preimage lntypes.Preimage
	if ok {
		settled, preimage = inv.settled, inv.preimage
	}
	f.mu.Unlock()

	if !ok {
		w.Write([]byte(`{"status":"ERROR","reason":"unknown invoice"}`))
		return
	}
	if !settled {
		w.Write([]byte(`{"status":"OK","settled":false,"preimage":null,"pr":""}`))
		return
	}
	fmt.Fprintf(w, `{"status":"OK","settled":true,"preimage":%q,"pr":""}`, preimage.String())
}

// SimulatePayment marks the invoice with the given hash as paid.
func (f *fakeService) SimulatePayment(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv, ok := f.invoices[hash]; ok {
		inv.settled = true
	}
}
