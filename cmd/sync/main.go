package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot()
	err := root.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

// buildRoot creates the command tree. The root command itself runs a sync so
// that `tendersync --type CON` works without the subcommand.
func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	syncFlags := &SyncFlags{}

	root := &cobra.Command{
		Use:   "tendersync",
		Short: "Synchronize Georgian procurement tenders into local record files",
		Long: `tendersync keeps one JSONL record file per tender type current with the
procurement portal: active tenders are re-checked for status changes, then
newly published tenders are discovered by comparing per-window counts.

Examples:
  tendersync --type CON
  tendersync sync --type CON --date-from 2025-12-01 --date-to 2025-12-03
  tendersync sync --type all --dry-run
  tendersync history --limit 5
  tendersync health --threshold-hours 48`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, global, syncFlags)
		},
	}

	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to YAML config file (default ./configs/config.yaml)")
	root.PersistentFlags().BoolVar(&global.Debug, "debug", false, "enable debug logging")
	bindSyncFlags(root, syncFlags)

	root.AddCommand(
		createSyncCommand(global),
		createHistoryCommand(global),
		createHealthCommand(global),
	)
	return root
}
