package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"lnurlpos/internal/config"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/payments"
	"lnurlpos/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "lnurlpos",
		Usage: "Lightning point of sale paying into an LNURL-pay service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Aliases: []string{"d"}, Usage: "directory holding the profile and database"},
			&cli.StringFlag{Name: "rate-feed-url", Usage: "exchange rate feed URL"},
			&cli.DurationFlag{Name: "resolve-timeout", Usage: "upper bound for obtaining one invoice"},
			&cli.StringFlag{Name: "error-policy", Usage: "verify URL status ERROR handling: retry or fail"},
			&cli.BoolFlag{Name: "dev", Aliases: []string{"D"}, Usage: "development mode: console logs, no CORS restriction or rate limiting"},
		},
		Before: func(c *cli.Context) error {
			dev := c.Bool("dev") || os.Getenv(config.Prefix+"_DEV") == "true"
			return logging.Init(dev)
		},
		After: func(c *cli.Context) error {
			logging.Sync()
			return nil
		},
		Commands: []*cli.Command{
			setupCommand,
			serveCommand,
			invoiceCommand,
			paymentsCommand,
			statsCommand,
			exportCommand,
			clearCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnurlpos] %v\n", err)
	os.Exit(1)
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("rate-feed-url") {
		cfg.RateFeedURL = c.String("rate-feed-url")
	}
	if c.IsSet("resolve-timeout") {
		cfg.ResolveTimeout = c.Duration("resolve-timeout")
	}
	if c.IsSet("error-policy") {
		cfg.ErrorPolicy = c.String("error-policy")
	}
	if c.IsSet("dev") {
		cfg.Dev = c.Bool("dev")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session bundles what every command past setup needs.
type session struct {
	cfg     *config.Config
	profile *config.Profile
	store   *store.SQLiteStore
	client  *payments.Client
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		logging.Store.Warnw("failed to close database", "error", err)
	}
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	profile, err := config.LoadProfile(cfg.DataDir)
	if errors.Is(err, config.ErrNoProfile) {
		return nil, fmt.Errorf("%w in %s; run `lnurlpos setup` first", err, cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}
	endpoint, err := profile.Endpoint()
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client := payments.NewClient(payments.ClientConfig{
		Endpoint:       endpoint,
		Currency:       profile.Currency(),
		RateFeedURL:    cfg.FeedURL(),
		CacheTTL:       cfg.CacheTTL,
		ResolveTimeout: cfg.ResolveTimeout,
		HTTPClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		Verifier:       cfg.Verifier(),
	}, st)

	return &session{cfg: cfg, profile: profile, store: st, client: client}, nil
}

var setupCommand = &cli.Command{
	Name:  "setup",
	Usage: "store the LNURL and currency this terminal takes payments for",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "lnurl", Required: true, Usage: "LNURL, lnurlp:// URL or lightning address"},
		&cli.StringFlag{Name: "currency-code", Value: "USD", Usage: "ISO 4217 code amounts are entered in"},
		&cli.StringFlag{Name: "currency-symbol", Usage: "display symbol, defaults to the code"},
		&cli.StringFlag{Name: "currency-name", Usage: "display name"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		code := strings.ToUpper(strings.TrimSpace(c.String("currency-code")))
		symbol := c.String("currency-symbol")
		if symbol == "" {
			symbol = code
		}
		p := &config.Profile{
			LNURL:          strings.TrimSpace(c.String("lnurl")),
			CurrencyCode:   code,
			CurrencySymbol: symbol,
			CurrencyName:   c.String("currency-name"),
		}
		if err := config.SaveProfile(cfg.DataDir, p); err != nil {
			return err
		}

		endpoint, err := p.Endpoint()
		if err != nil {
			return err
		}
		fmt.Printf("Profile saved to %s\n", cfg.DataDir)
		fmt.Printf("  Service:  %s\n", endpoint.URL())
		fmt.Printf("  Currency: %s (%s)\n", p.CurrencyCode, p.CurrencySymbol)

		// Warm both caches once so a bad service or feed shows up now.
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.client.UpdateCaches().Wait(); err != nil {
			fmt.Printf("  Warning:  %v\n", err)
		}
		return nil
	},
}

func withSession(fn func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(c, s)
	}
}
