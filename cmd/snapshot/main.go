// Package main provides the snapshot worker entry point.
//
// Usage:
//
//	snapshot                      run the daily scheduler (SNAPSHOT_RUN_AT, UTC)
//	snapshot run [-date D] [-company ID,...] [-dry-run]
//	snapshot redo -account ID -from D -to D
//	snapshot verify (-account ID | -company ID)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hedge-snapshots/internal/app"
	"github.com/hedge-snapshots/internal/config"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/metrics"
	"github.com/hedge-snapshots/internal/service"
	"github.com/hedge-snapshots/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "snapshot_worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "schedule"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode, args = args[0], args[1:]
	}

	switch mode {
	case "schedule":
		err = schedule(ctx, cfg, logger)
	case "run":
		err = run(ctx, cfg, logger, args)
	case "redo":
		err = redo(ctx, cfg, logger, args)
	case "verify":
		err = verify(ctx, cfg, logger, args)
	default:
		err = fmt.Errorf("unknown mode %q (want schedule, run, redo or verify)", mode)
	}
	if err != nil {
		logger.WithError(err).Fatal("Snapshot worker failed")
	}
}

func schedule(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := service.NewScheduler(a.Creator, cfg.Snapshot.RunAt, logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down snapshot worker...")
	if err := scheduler.Stop(); err != nil {
		return err
	}
	logger.Info("Worker stopped")
	return nil
}

func parseDateFlag(name, value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		if fallback.IsZero() {
			return time.Time{}, fmt.Errorf("-%s is required", name)
		}
		return fallback, nil
	}
	d, err := types.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: %w", name, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	date := fs.String("date", "", "reference date YYYY-MM-DD (default today, UTC)")
	companies := fs.String("company", "", "comma-separated company IDs (default all)")
	dryRun := fs.Bool("dry-run", false, "compute without persisting, locking or exporting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	refDate, err := parseDateFlag("date", *date, types.StartOfDay(time.Now()))
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger, app.Options{DryRun: *dryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.SeedDryRun(ctx, refDate); err != nil {
		return err
	}

	summary, err := a.Creator.Run(ctx, refDate, splitList(*companies))
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"run_id":   summary.RunID,
		"ref_date": refDate.Format("2006-01-02"),
		"created":  summary.Count(metrics.OutcomeCreated),
		"existing": summary.Count(metrics.OutcomeExisting),
		"skipped":  summary.Count(metrics.OutcomeSkipped),
		"failed":   summary.Count(metrics.OutcomeFailed),
		"dry_run":  *dryRun,
	}).Info("Snapshot run complete")

	if *dryRun {
		if err := printDryRun(ctx, a, summary, refDate); err != nil {
			return err
		}
	}
	if failed := summary.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d snapshots failed", len(failed))
	}
	return nil
}

// printDryRun writes one line per computed account snapshot and the run summary
func printDryRun(ctx context.Context, a *app.App, summary *service.RunSummary, refDate time.Time) error {
	seen := make(map[string]bool)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPANY\tACCOUNT\tNPV\tHEDGED\tUNHEDGED\tROLL\tMARGIN\tDEGRADED")
	for _, res := range summary.Results {
		if res.Entity.Kind != types.EntityCompany || seen[res.Entity.ID] {
			continue
		}
		seen[res.Entity.ID] = true

		accounts, _, err := a.DryRunSnapshots(ctx, res.Entity.ID, refDate)
		if err != nil {
			return err
		}
		for _, s := range accounts {
			margin := "-"
			if !math.IsNaN(s.Margin) {
				margin = fmt.Sprintf("%.2f", s.Margin)
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
				s.CompanyID, s.AccountID, s.CashflowNPV, s.HedgedValue, s.UnhedgedValue,
				s.DailyRollValue, margin, strings.Join(s.DegradedFields, ","))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func redo(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("redo", flag.ExitOnError)
	account := fs.String("account", "", "account ID")
	from := fs.String("from", "", "first snapshot date YYYY-MM-DD")
	to := fs.String("to", "", "last snapshot date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("-account is required")
	}
	fromDate, err := parseDateFlag("from", *from, time.Time{})
	if err != nil {
		return err
	}
	toDate, err := parseDateFlag("to", *to, time.Time{})
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Creator.RedoAccountRange(ctx, *account, fromDate, toDate)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"account":  *account,
		"replaced": summary.Count(metrics.OutcomeReplaced),
		"failed":   summary.Count(metrics.OutcomeFailed),
	}).Info("Redo complete")

	if failed := summary.Failed(); len(failed) > 0 {
		return fmt.Errorf("redo stopped: %s", failed[0].Error)
	}
	return nil
}

func verify(ctx context.Context, cfg *config.Config, logger *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	account := fs.String("account", "", "account ID")
	company := fs.String("company", "", "company ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*account == "") == (*company == "") {
		return fmt.Errorf("give exactly one of -account or -company")
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	entity := types.EntityKey{Kind: types.EntityAccount, ID: *account}
	if *company != "" {
		entity = types.EntityKey{Kind: types.EntityCompany, ID: *company}
		n, err = a.History.VerifyCompanyChain(ctx, *company)
	} else {
		n, err = a.History.VerifyAccountChain(ctx, *account)
	}
	if err != nil {
		return err
	}
	logger.WithEntity(entity).WithField("length", n).Info("Chain is consistent")
	return nil
}
