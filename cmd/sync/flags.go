package main

import "github.com/spf13/cobra"

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Debug      bool
}

// SyncFlags select what a sync run does.
type SyncFlags struct {
	Type          string
	DateFrom      string
	DateTo        string
	File          string
	CategoryCode  string
	DryRun        bool
	SkipRecheck   bool
	SkipDiscovery bool
}

func bindSyncFlags(cmd *cobra.Command, f *SyncFlags) {
	cmd.Flags().StringVar(&f.Type, "type", "CON", "tender type code, or \"all\" for every configured type")
	cmd.Flags().StringVar(&f.DateFrom, "date-from", "", "discovery window start (YYYY-MM-DD); requires --date-to")
	cmd.Flags().StringVar(&f.DateTo, "date-to", "", "discovery window end (YYYY-MM-DD); requires --date-from")
	cmd.Flags().StringVar(&f.File, "file", "", "record file to sync (overrides the configured file; single type only)")
	cmd.Flags().StringVar(&f.CategoryCode, "category-code", "", "restrict to a CPV category prefix (overrides the type's default)")
	cmd.Flags().BoolVar(&f.DryRun, "dry-run", false, "count and compare only; never fetch windows or write files")
	cmd.Flags().BoolVar(&f.SkipRecheck, "skip-recheck", false, "skip the active-tender re-check phase")
	cmd.Flags().BoolVar(&f.SkipDiscovery, "skip-discovery", false, "skip the new-tender discovery phase")
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
	JSON  bool
}

// HealthFlags holds flags for the health command.
type HealthFlags struct {
	ThresholdHours float64
}
