package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ingestapp "github.com/impactledger/impact-ingest/internal/app"
	"github.com/impactledger/impact-ingest/internal/ingest"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ingestion run and exit",
	Long: `Execute one ingestion run in the foreground and print its final status as JSON.

Examples:
  # Refresh the most recent month
  impact-ingest run --config config.yaml

  # Backfill two years, ignoring any saved checkpoint
  impact-ingest run --config config.yaml --kind backfill --months 24 --fresh

  # One company over 2021..2023
  impact-ingest run --config config.yaml --kind entity --entity 00126380 --from 2021 --to 2023

Interrupting the command cancels the run and saves a checkpoint that the next run resumes from.`,
	RunE: runOnce,
}

func init() {
	addRunFlags(runCmd)

	if err := runCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().String("kind", string(ingest.KindRecent), "Run kind (recent, backfill, entity)")
	cmd.Flags().Int("months", 0, "Months to cover for recent and backfill runs (0 = configured default)")
	cmd.Flags().String("entity", "", "Entity code for entity runs")
	cmd.Flags().Int("from", 0, "First year for entity runs")
	cmd.Flags().Int("to", 0, "Last year for entity runs")
	cmd.Flags().Int("parallelism", 0, "Concurrent tasks (0 = configured default)")
	cmd.Flags().Int("max-targets", 0, "Cap on ranked entities (0 = configured default)")
	cmd.Flags().Bool("fresh", false, "Ignore and clear any saved checkpoint")
}

// requestFromFlags builds the run request from command flags
func requestFromFlags(cmd *cobra.Command) (ingest.Request, error) {
	flags := cmd.Flags()

	kind, err := flags.GetString("kind")
	if err != nil {
		return ingest.Request{}, fmt.Errorf("failed to get kind flag: %w", err)
	}
	parsed, err := ingest.ParseKind(kind)
	if err != nil {
		return ingest.Request{}, err
	}

	req := ingest.Request{Kind: parsed}
	ints := map[string]*int{
		"months":      &req.Months,
		"from":        &req.FromYear,
		"to":          &req.ToYear,
		"parallelism": &req.Parallelism,
		"max-targets": &req.MaxTargets,
	}
	for name, dst := range ints {
		if *dst, err = flags.GetInt(name); err != nil {
			return ingest.Request{}, fmt.Errorf("failed to get %s flag: %w", name, err)
		}
	}
	if req.EntityCode, err = flags.GetString("entity"); err != nil {
		return ingest.Request{}, fmt.Errorf("failed to get entity flag: %w", err)
	}
	if req.Fresh, err = flags.GetBool("fresh"); err != nil {
		return ingest.Request{}, fmt.Errorf("failed to get fresh flag: %w", err)
	}

	if err := req.Validate(); err != nil {
		return ingest.Request{}, err
	}
	return req, nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := newTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(tel)

	app, err := ingestapp.NewIngestApp(ctx,
		ingestapp.WithConfig(cfg),
		ingestapp.WithMeterProvider(tel.MeterProvider()),
		ingestapp.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	st, runErr := app.RunOnce(ctx, req)

	output, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format status as JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if st.Resumable {
		slog.Warn("Run stopped early; the next run resumes from the saved checkpoint",
			"phase", st.Phase, "checkpoint_position", st.CheckpointPosition)
	}
	return nil
}
