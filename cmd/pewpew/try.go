package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/FamilySearch/pewpew/internal/coordinator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "try",
		Short: "Fire one dependency-ordered debug pass over matching endpoints",
		RunE:  runTry,
	}
	cmd.Flags().String("config", "", "path to the test config file (required)")
	cmd.Flags().Bool("loggers-on", false, "also dispatch to the endpoints' configured loggers")
	cmd.Flags().String("file", "", "write the try run's own progress output here (default stderr)")
	cmd.Flags().StringArray("filter", nil, "key=glob or key!=glob, repeatable; matches any rule")
	cmd.Flags().String("format", "", "override the config's summary_format: human or json")
	cmd.Flags().String("results-dir", "", "directory that relative --file paths resolve against")
	cmd.MarkFlagRequired("config")
	rootCmd.AddCommand(cmd)
}

func runTry(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	loggersOn, _ := cmd.Flags().GetBool("loggers-on")
	file, _ := cmd.Flags().GetString("file")
	filters, _ := cmd.Flags().GetStringArray("filter")
	format, _ := cmd.Flags().GetString("format")
	resultsDir, _ := cmd.Flags().GetString("results-dir")

	opts := coordinator.TryOptions{
		ConfigPath: configPath,
		LoggersOn:  loggersOn,
		File:       file,
		Filters:    filters,
		Format:     format,
		ResultsDir: resultsDir,
	}

	ctx, cancel := interruptContext()
	defer cancel()

	outcome := coordinator.TryRun(ctx, opts)
	if outcome.Err != nil {
		fmt.Fprintln(os.Stderr, outcome.Err)
	}
	os.Exit(outcome.ExitCode())
	return nil
}
