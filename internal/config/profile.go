package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"lnurlpos/internal/lnurl"
	"lnurlpos/internal/payments"
)

// ProfileFile is the profile's name inside the data dir.
const ProfileFile = "config.json"

var ErrNoProfile = errors.New("no profile configured")

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Profile is the merchant setup: where payments go and which currency
// amounts are entered in.
type Profile struct {
	LNURL          string `json:"lnurl"`
	CurrencyCode   string `json:"currency_code"`
	CurrencySymbol string `json:"currency_symbol"`
	CurrencyName   string `json:"currency_name"`
}

// Validate checks the identifier and the currency code.
func (p *Profile) Validate() error {
	if _, err := lnurl.ParseIdentifier(p.LNURL); err != nil {
		return err
	}
	if !currencyCodePattern.MatchString(p.CurrencyCode) {
		return fmt.Errorf("currency code must be 3 upper-case letters, got %q", p.CurrencyCode)
	}
	return nil
}

// Endpoint parses the stored identifier.
func (p *Profile) Endpoint() (lnurl.Endpoint, error) {
	return lnurl.ParseIdentifier(p.LNURL)
}

// Currency returns the profile currency.
func (p *Profile) Currency() payments.Currency {
	return payments.Currency{
		Code:   p.CurrencyCode,
		Symbol: p.CurrencySymbol,
		Name:   p.CurrencyName,
	}
}

// LoadProfile reads the profile from dataDir.
func LoadProfile(dataDir string) (*Profile, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ProfileFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return &p, nil
}

// SaveProfile validates p and writes it to dataDir, replacing any previous
// profile.
func SaveProfile(dataDir string, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, ProfileFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
