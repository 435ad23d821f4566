package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FamilySearch/pewpew/internal/coordinator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test to completion",
		RunE:  runRun,
	}
	cmd.Flags().String("config", "", "path to the test config file (required)")
	cmd.Flags().String("output-format", "", "override the config's summary_format: human or json")
	cmd.Flags().String("results-dir", "", "directory that relative --stats-file paths resolve against")
	cmd.Flags().String("stats-file", "", "write final stats to this file on exit")
	cmd.Flags().String("stats-file-format", "json", "format of --stats-file (json is the only supported value)")
	cmd.Flags().Bool("watch", false, "restart the test whenever --config changes on disk")
	cmd.Flags().Duration("start-at", 0, "fast-forward into the load pattern as if the test had run this long already")
	cmd.MarkFlagRequired("config")
	rootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	outputFormat, _ := cmd.Flags().GetString("output-format")
	resultsDir, _ := cmd.Flags().GetString("results-dir")
	statsFile, _ := cmd.Flags().GetString("stats-file")
	statsFileFormat, _ := cmd.Flags().GetString("stats-file-format")
	watch, _ := cmd.Flags().GetBool("watch")
	startAt, _ := cmd.Flags().GetDuration("start-at")

	opts := coordinator.RunOptions{
		ConfigPath:      configPath,
		OutputFormat:    outputFormat,
		ResultsDir:      resultsDir,
		StatsFile:       statsFile,
		StatsFileFormat: statsFileFormat,
		StartAt:         startAt,
	}

	ctx, cancel := interruptContext()
	defer cancel()

	var outcome coordinator.Outcome
	if watch {
		outcome = runWatching(ctx, configPath, opts)
	} else {
		outcome = coordinator.Run(ctx, opts)
	}

	if outcome.Err != nil {
		fmt.Fprintln(os.Stderr, outcome.Err)
	}
	os.Exit(outcome.ExitCode())
	return nil
}

// runWatching restarts the test whenever the config file's modification time
// changes, polling rather than using an OS file-watcher (the watcher itself
// is a collaborator outside this engine's scope, spec.md §1 "Non-goals").
// It returns once a run ends for a reason other than the watch-triggered
// cancellation, or the parent context is done.
func runWatching(ctx context.Context, configPath string, opts coordinator.RunOptions) coordinator.Outcome {
	lastMod := modTimeOrZero(configPath)
	for {
		runCtx, cancelRun := context.WithCancel(ctx)
		done := make(chan coordinator.Outcome, 1)
		go func() { done <- coordinator.Run(runCtx, opts) }()

		ticker := time.NewTicker(time.Second)
		restart := false
		var outcome coordinator.Outcome
	waitLoop:
		for {
			select {
			case outcome = <-done:
				break waitLoop
			case <-ticker.C:
				if m := modTimeOrZero(configPath); m.After(lastMod) {
					lastMod = m
					restart = true
					cancelRun()
				}
			case <-ctx.Done():
				cancelRun()
				outcome = <-done
				break waitLoop
			}
		}
		ticker.Stop()
		cancelRun()
		if !restart || ctx.Err() != nil {
			return outcome
		}
		fmt.Fprintf(os.Stderr, "pewpew: %s changed, restarting test\n", configPath)
	}
}

func modTimeOrZero(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
