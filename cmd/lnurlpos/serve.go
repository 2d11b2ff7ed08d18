package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"lnurlpos/internal/api"
	"lnurlpos/internal/config"
	"lnurlpos/internal/export"
	"lnurlpos/internal/logging"
	"lnurlpos/internal/payments"
)

// pendingMaxAge bounds how long the limiter holds an invoice whose done
// callback never fired.
const pendingMaxAge = time.Hour

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exportStorage picks the bucket when configured, the data dir otherwise.
func exportStorage(cfg *config.Config) (export.Storage, error) {
	if b2 := cfg.B2(); b2.Enabled() {
		st, err := export.NewB2Storage(b2)
		if err != nil {
			return nil, err
		}
		logging.Internal.Infow("exports go to bucket", "bucket", b2.Bucket, "public", b2.PublicURL != "")
		return st, nil
	}
	return export.NewFSStorage(cfg.ExportDir())
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the point-of-sale HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
		&cli.StringFlag{Name: "cors-origins", Usage: "comma-separated list of allowed CORS origins"},
		&cli.IntFlag{Name: "max-pending", Usage: "unpaid invoices allowed per client IP"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		cfg := s.cfg
		if c.IsSet("addr") {
			cfg.HTTPAddr = c.String("addr")
		}
		if c.IsSet("cors-origins") {
			cfg.CORSOrigins = strings.Split(c.String("cors-origins"), ",")
		}
		if c.IsSet("max-pending") {
			cfg.MaxPendingPerIP = c.Int("max-pending")
		}

		ctx, cancel := signalContext()
		defer cancel()

		watcher := payments.NewWatcher(s.client, s.store)
		pendingLimiter := api.NewPendingInvoiceLimiter(cfg.MaxPendingPerIP)
		watcher.SetDoneCallback(func(st *payments.Status) {
			pendingLimiter.OnInvoiceDone(st.Invoice.PaymentHash.String())
		})

		resumed, err := watcher.Start(ctx)
		if err != nil {
			logging.Internal.Warnw("failed to load pending invoices", "error", err)
		} else if resumed > 0 {
			logging.Internal.Infow("resumed verification", "invoices", resumed)
		}

		s.client.UpdateCaches()

		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := pendingLimiter.CleanupExpired(pendingMaxAge); n > 0 {
						logging.Internal.Infow("cleaned up stale pending entries", "count", n)
					}
				}
			}
		}()

		handler := api.NewHandler(s.client, watcher, pendingLimiter)
		if storage, err := exportStorage(cfg); err != nil {
			logging.Internal.Warnw("export storage unavailable", "error", err)
		} else {
			handler.SetExporter(export.NewExporter(storage, time.Local))
		}

		var corsConfig api.CORSConfig
		if cfg.Dev {
			logging.Internal.Info("development mode: CORS allowing all origins")
		} else {
			for _, o := range cfg.CORSOrigins {
				if o = strings.TrimSpace(o); o != "" {
					corsConfig.AllowedOrigins = append(corsConfig.AllowedOrigins, o)
				}
			}
			logging.Internal.Infow("CORS configured", "origins", corsConfig.AllowedOrigins)
		}

		// Logger -> RateLimit -> CORS -> handler
		var finalHandler http.Handler = handler
		finalHandler = api.CORS(corsConfig)(finalHandler)
		if !cfg.Dev {
			finalHandler = api.RateLimit(api.DefaultRateLimitConfig())(finalHandler)
			logging.Internal.Info("rate limiting enabled")
		}
		finalHandler = api.Logger(finalHandler)

		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           finalHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			logging.Internal.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Internal.Warnw("shutdown error", "error", err)
			}
		}()

		logging.Internal.Infow("starting server",
			"addr", cfg.HTTPAddr,
			"service", s.client.Endpoint().URL(),
			"currency", s.client.CurrencyCode())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		// Pending invoices stay persisted for the next start.
		watcher.Wait()
		return nil
	}),
}
