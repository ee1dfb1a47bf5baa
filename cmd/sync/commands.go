package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/lockfile"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/service"
)

func createSyncCommand(global *GlobalFlags) *cobra.Command {
	flags := &SyncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-check active tenders and discover new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, global, flags)
		},
	}
	bindSyncFlags(cmd, flags)
	return cmd
}

func createHistoryCommand(global *GlobalFlags) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.history.List(flags.Limit)
			if err != nil {
				return err
			}
			if flags.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"logs": runs})
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 10, "number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the raw run records")
	return cmd
}

// Health exit codes, for cron and monitoring wrappers.
const (
	exitFailed = 1
	exitStale  = 2
	exitNoData = 3
)

func createHealthCommand(global *GlobalFlags) *cobra.Command {
	flags := &HealthFlags{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report sync freshness; exits non-zero unless healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(global)
			if err != nil {
				return err
			}
			defer a.close()

			threshold := a.freshness()
			if cmd.Flags().Changed("threshold-hours") {
				if flags.ThresholdHours <= 0 {
					return errors.New("--threshold-hours must be positive")
				}
				threshold = time.Duration(flags.ThresholdHours * float64(time.Hour))
			}

			h, err := a.history.Health(threshold, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", h.Status)
			if h.Latest != nil {
				fmt.Fprintf(out, "latest run: %s (%s) at %s\n", h.Latest.RunID, h.Latest.Status,
					h.Latest.Timestamp.UTC().Format(time.RFC3339))
				fmt.Fprintf(out, "age: %.2fh (threshold %.2fh)\n", h.AgeHours, threshold.Hours())
			}

			switch h.Status {
			case domain.HealthHealthy:
				return nil
			case domain.HealthFailed:
				return &exitError{code: exitFailed, msg: "latest run failed"}
			case domain.HealthStale:
				return &exitError{code: exitStale, msg: "latest run is stale"}
			default:
				return &exitError{code: exitNoData, msg: "no runs recorded"}
			}
		},
	}
	cmd.Flags().Float64Var(&flags.ThresholdHours, "threshold-hours", 0, "freshness threshold in hours (default sync.freshness_hours)")
	return cmd
}

// runSync syncs the selected tender types one after another. Any FAILED run
// makes the invocation exit 1.
func runSync(cmd *cobra.Command, global *GlobalFlags, flags *SyncFlags) error {
	a, err := loadApp(global)
	if err != nil {
		return err
	}
	defer a.close()

	var types []domain.TenderType
	if strings.EqualFold(flags.Type, "all") {
		if flags.File != "" {
			return errors.New("--file cannot be combined with --type all")
		}
		for _, tt := range a.cfg.TenderTypes {
			if tt.File == "" {
				tt.File = domain.DataFileName(tt.Code)
			}
			types = append(types, tt)
		}
	} else {
		tt, err := a.cfg.TenderType(flags.Type)
		if err != nil {
			// The sync service rejects the code and records the failed run.
			tt = domain.TenderType{Code: flags.Type}
		}
		types = []domain.TenderType{tt}
	}

	svc, err := a.syncService()
	if err != nil {
		return err
	}
	defer a.writeTextfile()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	failed := 0
	for _, tt := range types {
		if ctx.Err() != nil {
			failed++
			break
		}
		dataFile := flags.File
		if dataFile == "" && tt.File != "" {
			dataFile = a.cfg.DataFile(tt)
		}
		category := flags.CategoryCode
		if category == "" {
			category = tt.CategoryCode
		}
		opts := service.SyncOptions{
			DataFile:      dataFile,
			TenderType:    tt.Code,
			CategoryCode:  category,
			DateFromText:  flags.DateFrom,
			DateToText:    flags.DateTo,
			DryRun:        flags.DryRun,
			SkipRecheck:   flags.SkipRecheck,
			SkipDiscovery: flags.SkipDiscovery,
		}

		rec, err := runLocked(cmd, a, svc, opts)
		if rec != nil {
			printSummary(out, rec)
		}
		if err != nil {
			a.log.WithError(err).WithField(logger.FieldTenderType, tt.Code).Error("Sync failed")
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", tt.Code, err)
		}
		if err != nil || rec == nil || rec.Status != domain.RunStatusSuccess {
			failed++
		}
	}

	if failed > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d of %d sync runs failed", failed, len(types))}
	}
	return nil
}

// runLocked holds the data-file lock for the duration of one run. A held
// lock means another sync owns the file; no run record is written then.
// Without a data file the run fails validation and is recorded unlocked.
func runLocked(cmd *cobra.Command, a *app, svc *service.SyncService, opts service.SyncOptions) (*domain.RunRecord, error) {
	if opts.DataFile == "" {
		return svc.Run(cmd.Context(), opts)
	}
	ttl := a.cfg.Data.LockTTL
	lock, err := lockfile.Acquire(lockfile.PathFor(opts.DataFile), ttl)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.log.WithError(err).Warn("Failed to release lock")
		}
	}()
	if ttl > 0 {
		lock.Heartbeat(cmd.Context(), ttl/3)
	}
	return svc.Run(cmd.Context(), opts)
}

func printSummary(w io.Writer, rec *domain.RunRecord) {
	m := rec.Metrics
	mode := ""
	if rec.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "%s %s%s: %s in %.2fs\n", rec.TenderType, rec.RunID, mode, rec.Status, rec.DurationSeconds)
	fmt.Fprintf(w, "  active rechecked:   %d\n", m.TotalActiveRechecked)
	fmt.Fprintf(w, "  status changes:     %d\n", m.StatusChangesDetected)
	fmt.Fprintf(w, "  records updated:    %d\n", m.RecordsUpdated)
	fmt.Fprintf(w, "  new tenders added:  %d\n", m.NewTendersAdded)
	fmt.Fprintf(w, "  total tenders:      %d\n", m.TotalTenders)
	fmt.Fprintf(w, "  windows mismatched: %d/%d (%d count queries)\n", m.WindowsMismatched, m.WindowsChecked, m.CountQueries)
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "  errors (%d):\n", len(m.Errors))
		for i, e := range m.Errors {
			if i == 10 {
				fmt.Fprintf(w, "    ... %d more\n", len(m.Errors)-i)
				break
			}
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
}

func printHistory(w io.Writer, runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTYPE\tSTATUS\tRECHECKED\tCHANGED\tADDED\tTOTAL\tERRORS\tDURATION")
	for _, r := range runs {
		status := string(r.Status)
		if r.DryRun {
			status += " (dry)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.2fs\n",
			r.Timestamp.UTC().Format(time.RFC3339), r.TenderType, status,
			r.Metrics.TotalActiveRechecked, r.Metrics.StatusChangesDetected,
			r.Metrics.NewTendersAdded, r.Metrics.TotalTenders, len(r.Metrics.Errors),
			r.DurationSeconds)
	}
	_ = tw.Flush()
}
