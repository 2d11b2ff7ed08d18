package lnurl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"lnurlpos/internal/errs"
)

const humanReadablePart = "lnurl"

// schemeMarkers are stripped from the front of an identifier, in any order
// and any number of times, before it is decoded.
var schemeMarkers = []string{"lightning:", "lnurl:"}

// Endpoint is the canonical URL of an LNURL-pay service.
type Endpoint struct {
	url string
}

// URL returns the endpoint as a string.
func (e Endpoint) URL() string {
	return e.url
}

func (e Endpoint) String() string {
	return e.url
}

// IsZero reports whether e was never parsed.
func (e Endpoint) IsZero() bool {
	return e.url == ""
}

// ParseIdentifier turns user input into an Endpoint. It accepts bech32
// LNURLs (optionally behind "lightning:" or "lnurl:"), lnurlp:// URLs and
// lightning addresses.
func ParseIdentifier(input string) (Endpoint, error) {
	s := stripSchemeMarkers(strings.TrimSpace(input))
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", errs.ErrInvalidIdentifier)
	}

	var (
		raw string
		err error
	)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, humanReadablePart+"1"):
		raw, err = DecodeURL(s)

	case strings.HasPrefix(lower, "lnurlp://"):
		raw, err = decodeLUD17(s)

	case strings.Contains(s, "@"):
		raw, err = decodeAddress(s)

	default:
		err = fmt.Errorf("unsupported format")
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", errs.ErrInvalidIdentifier, err)
	}

	if err := checkServiceURL(raw); err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", errs.ErrInvalidIdentifier, err)
	}
	return Endpoint{url: raw}, nil
}

// MustParseIdentifier is ParseIdentifier for inputs known to be valid.
func MustParseIdentifier(input string) Endpoint {
	e, err := ParseIdentifier(input)
	if err != nil {
		panic(err)
	}
	return e
}

func stripSchemeMarkers(s string) string {
	for {
		stripped := false
		for _, marker := range schemeMarkers {
			if len(s) >= len(marker) && strings.EqualFold(s[:len(marker)], marker) {
				s = strings.TrimSpace(s[len(marker):])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

// DecodeURL decodes a bech32 LNURL into the URL it wraps.
func DecodeURL(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(lnurl)
	if err != nil {
		return "", err
	}

	if hrp != humanReadablePart {
		return "", fmt.Errorf("incorrect hrp for LNURL: expected "+
			"'%s', got '%s'", humanReadablePart, hrp)
	}

	data, err = bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// EncodeURL encodes a URL as an upper-case bech32 LNURL.
func EncodeURL(rawURL string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}

	str, err := bech32.Encode(humanReadablePart, converted)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(str), nil
}

// decodeLUD17 maps lnurlp://host/path to https://host/path, or http for
// onion services.
func decodeLUD17(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	u.Scheme = "https"
	if strings.HasSuffix(u.Hostname(), ".onion") {
		u.Scheme = "http"
	}
	return u.String(), nil
}

// decodeAddress maps user@domain to the well-known LNURL-pay path.
func decodeAddress(s string) (string, error) {
	parts := strings.Split(s, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid lightning address, expected " +
			"the form <username>@<domain>")
	}

	username, domain := strings.ToLower(parts[0]), strings.ToLower(parts[1])
	scheme := "https"
	if strings.HasSuffix(domain, ".onion") {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", scheme, domain,
		url.PathEscape(username)), nil
}

func checkServiceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
