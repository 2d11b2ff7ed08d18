package lnurl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lnurlpos/internal/errs"
)

const serviceURL = "https://pay.example.com/lnurlp/shop?tag=pos"

func encoded(t *testing.T, u string) string {
	t.Helper()
	s, err := EncodeURL(u)
	require.NoError(t, err)
	return s
}

func TestParseIdentifier(t *testing.T) {
	bech := encoded(t, serviceURL)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare upper-case", bech, serviceURL},
		{"bare lower-case", strings.ToLower(bech), serviceURL},
		{"lightning prefix", "lightning:" + bech, serviceURL},
		{"upper-case lightning prefix", "LIGHTNING:" + bech, serviceURL},
		{"lnurl prefix", "lnurl:" + bech, serviceURL},
		{"stacked prefixes", "lightning:lnurl:lightning:" + bech, serviceURL},
		{"surrounding whitespace", "  lightning:" + bech + "\n", serviceURL},
		{"lud17", "lnurlp://pay.example.com/lnurlp/shop", "https://pay.example.com/lnurlp/shop"},
		{"lud17 onion", "lnurlp://abcdef.onion/pay", "http://abcdef.onion/pay"},
		{"lightning address", "Shop@Example.com", "https://example.com/.well-known/lnurlp/shop"},
		{"lightning address behind prefix", "lightning:shop@example.com", "https://example.com/.well-known/lnurlp/shop"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseIdentifier(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, got.URL())
			require.False(t, strings.HasPrefix(strings.ToLower(got.URL()), "lightning:"))
			require.False(t, strings.HasPrefix(strings.ToLower(got.URL()), "lnurl:"))
		})
	}
}

func TestParseIdentifier_Invalid(t *testing.T) {
	bech := encoded(t, serviceURL)
	notURL := encoded(t, "just some text")
	flip := "Q"
	if strings.HasSuffix(bech, flip) {
		flip = "P"
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"only prefixes", "lightning:lnurl:"},
		{"garbage", "hello world"},
		{"bad checksum", bech[:len(bech)-1] + flip},
		{"mixed case", strings.ToLower(bech[:10]) + bech[10:]},
		{"not a url inside", notURL},
		{"bad address", "@example.com"},
		{"two at signs", "a@b@c"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseIdentifier(tc.input)
			require.ErrorIs(t, err, errs.ErrInvalidIdentifier)
		})
	}
}

func TestDecodeURL_WrongHRP(t *testing.T) {
	_, err := DecodeURL("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	require.Error(t, err)
}

func TestStripSchemeMarkers_Iterative(t *testing.T) {
	deep := strings.Repeat("lightning:", 10000) + "rest"
	require.Equal(t, "rest", stripSchemeMarkers(deep))
}
