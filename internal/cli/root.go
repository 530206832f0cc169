// Package cli provides the command-line interface for jobbreak.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/awalker/jobbreak/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	cfgPath string
	verbose bool
	dryRun  bool

	// Loaded in PersistentPreRunE
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error

	// Exit status of the run, propagated to the process exit code.
	outcome int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobbreak",
	Short: "Break a job into tasks and feed them to a work queue",
	Long: `Jobbreak decomposes a job into independent tasks and submits each one to a
durable work queue for the processing fleet to pick up.

Tasks come either from a literal job document ({"tasks": [...]}) or from a
generator command whose output is streamed line by line. Generators can also
push referenced files to blob storage (push_file), emit diagnostics
(error_messages) and reroute subsequent tasks (set_queue) mid-stream.`,
	Version: Version,
	// main prints the returned error; without this cobra would print it too.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dryRun {
			cfg.DryRun = true
		}

		level := cfg.Level()
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				slog.Warn("failed to close log file", "error", err)
			}
		}
	},
}

// Execute runs the CLI and returns the process exit code alongside any error.
func Execute() (int, error) {
	err := rootCmd.Execute()
	if err != nil && outcome == 0 {
		outcome = 1
	}
	return outcome, err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "skip all queue and storage calls")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
