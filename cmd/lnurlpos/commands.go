package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"lnurlpos/internal/errs"
	"lnurlpos/internal/export"
	"lnurlpos/internal/payments"
	"lnurlpos/internal/store"
)

// parseAmount turns a decimal amount such as "12.5" into minor units.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errs.ErrInvalidAmount, s)
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than two decimals", errs.ErrInvalidAmount, s)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", errs.ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

func formatFiat(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func formatSats(msat uint64) string {
	return strconv.FormatUint(msat/1000, 10)
}

var invoiceCommand = &cli.Command{
	Name:      "invoice",
	Usage:     "request an invoice for an amount and wait until it is paid",
	ArgsUsage: "<amount>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "no-wait", Usage: "print the invoice and exit"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected exactly one amount, e.g. `lnurlpos invoice 12.50`")
		}
		amount, err := parseAmount(c.Args().First())
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		inv, err := s.client.Resolve(ctx, amount)
		if err != nil {
			return fmt.Errorf("resolve %s %s: %w", formatFiat(amount), s.client.CurrencyCode(), err)
		}

		fmt.Printf("Amount:  %s %s (%s sats)\n", formatFiat(amount), s.client.CurrencySymbol(), formatSats(inv.AmountMsat))
		fmt.Printf("Hash:    %s\n", inv.PaymentHash)
		fmt.Printf("Expires: %s\n", inv.ExpiresAt().Format(time.Kitchen))
		fmt.Printf("\n%s\n\n", inv.Raw)

		if c.Bool("no-wait") {
			return nil
		}

		fmt.Println("Waiting for payment...")
		p, err := s.client.VerifyPayment(ctx, inv)
		switch payments.StateOf(err) {
		case payments.Settled:
			fmt.Printf("Paid at %s\n", p.Time().Format(time.Kitchen))
			return nil
		case payments.Expired:
			return fmt.Errorf("invoice expired unpaid")
		default:
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("stopped waiting; the invoice may still be paid")
			}
			return err
		}
	}),
}

var paymentsCommand = &cli.Command{
	Name:  "payments",
	Usage: "list recorded payments, newest first",
	Action: withSession(func(c *cli.Context, s *session) error {
		list, err := s.client.ListPayments(c.Context)
		if err != nil {
			return err
		}
		printPayments(os.Stdout, s.client.CurrencyCode(), list)
		return nil
	}),
}

func printPayments(w io.Writer, code string, list []*store.Payment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No payments recorded")
		return
	}
	fmt.Fprintf(w, "%-17s %12s %12s  %s\n", "DATE", code, "SATS", "HASH")
	for _, p := range list {
		fmt.Fprintf(w, "%-17s %12s %12s  %s\n",
			p.Time().Format("2006-01-02 15:04"),
			formatFiat(p.AmountFiat),
			formatSats(p.AmountMsat),
			p.ID)
	}
}

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "show payment statistics",
	Action: withSession(func(c *cli.Context, s *session) error {
		stats, err := s.client.Stats(c.Context)
		if err != nil {
			return err
		}
		printStats(os.Stdout, s.client.CurrencyCode(), stats)
		return nil
	}),
}

func printStats(w io.Writer, code string, stats *store.Stats) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           lnurlpos Statistics            ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Payments:        %-22d║\n", stats.TotalPayments)
	fmt.Fprintf(w, "║  Pending:         %-22d║\n", stats.PendingInvoices)
	fmt.Fprintf(w, "║  Total %-3s        %-22s║\n", code, formatFiat(stats.AmountFiat))
	fmt.Fprintf(w, "║  Total sats:      %-22s║\n", formatSats(stats.AmountMsat))
	fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
	if !stats.OldestPayment.IsZero() {
		fmt.Fprintf(w, "║  Oldest Payment:  %-22s║\n", stats.OldestPayment.Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "║  Newest Payment:  %-22s║\n", stats.NewestPayment.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(w, "║  No payments in database                 ║")
	}
	if len(stats.Daily) > 0 {
		fmt.Fprintln(w, "╠══════════════════════════════════════════╣")
		fmt.Fprintf(w, "║  Payments (last %d days)                 ║\n", store.StatsDays)
		fmt.Fprintln(w, "║  ──────────────────────────────────────  ║")
		for _, d := range stats.Daily {
			fmt.Fprintf(w, "║  %s: %3d  %18s  ║\n", d.Day, d.Count, formatFiat(d.AmountFiat)+" "+code)
		}
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════════╝")
}

var exportCommand = &cli.Command{
	Name:  "export",
	Usage: "write the payment history as CSV",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "file to write, stdout when empty"},
		&cli.BoolFlag{Name: "upload", Usage: "store the export in the configured bucket or exports dir"},
		&cli.StringFlag{Name: "tz", Usage: "time zone of the dates, e.g. Europe/Zurich", Value: "Local"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		loc, err := time.LoadLocation(c.String("tz"))
		if err != nil {
			return fmt.Errorf("time zone: %w", err)
		}

		if c.Bool("upload") {
			storage, err := exportStorage(s.cfg)
			if err != nil {
				return err
			}
			list, err := s.client.ListPayments(c.Context)
			if err != nil {
				return err
			}
			res, err := export.NewExporter(storage, loc).Export(c.Context, s.client.CurrencyCode(), list)
			if err != nil {
				return err
			}
			fmt.Printf("Stored %s (%d bytes)\n", res.Name, res.Size)
			if res.URL != "" {
				fmt.Println(res.URL)
			} else if fs, ok := storage.(*export.FSStorage); ok {
				fmt.Println(fs.Path(res.Name))
			}
			return nil
		}

		out := c.String("out")
		if out == "" {
			return s.client.ExportTransactionsCSV(c.Context, os.Stdout, loc)
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := s.client.ExportTransactionsCSV(c.Context, f, loc); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}),
}

var clearCommand = &cli.Command{
	Name:  "clear",
	Usage: "delete the payment history",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: withSession(func(c *cli.Context, s *session) error {
		if !c.Bool("yes") && !confirm(os.Stdin, "Delete all recorded payments?") {
			fmt.Println("Aborted")
			return nil
		}
		n, err := s.client.DeletePayments(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d payment(s)\n", n)
		return nil
	}),
}

func confirm(in io.Reader, question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
