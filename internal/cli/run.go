package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/awalker/jobbreak/internal/blob"
	"github.com/awalker/jobbreak/internal/breaker"
	"github.com/awalker/jobbreak/internal/queue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured run",
	Long: `Run the task-decomposition pipeline: consume the job, enqueue every task
and wait for all file pushes before reporting the outcome.

Examples:
  jobbreak run -c render-job.yaml
  jobbreak run -c render-job.yaml --dry-run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	// Silence cobra's usage dump: past this point failures are run
	// failures, not CLI misuse.
	cmd.SilenceUsage = true

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bcfg, err := breakerConfig()
	if err != nil {
		return err
	}

	queueSvc, uploader, err := buildServices(ctx)
	if err != nil {
		return err
	}

	b := breaker.New(bcfg, queueSvc, uploader, logger)
	code, runErr := b.Run(ctx)
	outcome = code

	renderSummary(cmd.OutOrStdout(), b.Stats(), code, cfg.DryRun)
	return runErr
}

// breakerConfig converts the loaded config into the breaker's view,
// reading the job document when direct mode is configured.
func breakerConfig() (breaker.Config, error) {
	mode, err := breaker.ParseReplicationMode(cfg.RepeatMode)
	if err != nil {
		return breaker.Config{}, err
	}

	bcfg := breaker.Config{
		GeneratorCommand: cfg.GeneratorCommand,
		QueueName:        cfg.Queue,
		RunPreamble:      cfg.RunPreamble(),
		Repeat:           cfg.Repeat,
		Mode:             mode,
		RetryAttempts:    cfg.RetryAttempts,
		RetryInterval:    cfg.RetryInterval(),
	}

	if cfg.JobFile != "" {
		job, err := os.ReadFile(cfg.JobFile)
		if err != nil {
			return breaker.Config{}, fmt.Errorf("read job file: %w", err)
		}
		bcfg.JobJSON = job
	}
	return bcfg, nil
}

// buildServices wires either real AWS clients or the dry-run stand-ins.
func buildServices(ctx context.Context) (queue.Service, blob.Uploader, error) {
	if cfg.DryRun {
		logger.Info("dry run: queue and storage calls are skipped")
		return queue.NewNopService(logger), blob.NewNopUploader(logger), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}

	return queue.NewSQSService(awsCfg, logger), blob.NewS3Uploader(awsCfg, logger), nil
}
