package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/impactledger/impact-ingest/database"
	"github.com/impactledger/impact-ingest/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the storage settings from the config file and applies
all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Migrate the database down",
	Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  impact-ingest migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  impact-ingest migrate down --config config.yaml --yes`,
	RunE: runMigrateDown,
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate down (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationStorage loads the config and returns its storage section,
// rejecting storage types without a schema
func migrationStorage(cmd *cobra.Command) (*config.StorageConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	storage := cfg.GetStorage()
	if storage.GetType() == config.StorageTypeMemory {
		return nil, fmt.Errorf("storage type %q has no schema to migrate", storage.GetType())
	}
	return storage, nil
}

// confirm asks on the command's input unless --yes was given
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Continue? (yes/no): ", prompt)
	var response string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "yes" || response == "y", nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	storage, err := migrationStorage(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("About to apply migrations to the %s database.", storage.GetType()))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations...")
	version, err := database.MigrateUp(commandContext(cmd), storage)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Migrations applied successfully", "version", version)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	storage, err := migrationStorage(cmd)
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	what := "ALL migrations"
	if numSteps > 0 {
		what = fmt.Sprintf("%d migration(s)", numSteps)
	}
	ok, err := confirm(cmd, fmt.Sprintf("WARNING: about to revert %s on the %s database.", what, storage.GetType()))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	if err := database.MigrateDown(commandContext(cmd), storage, int(numSteps)); err != nil {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}

	slog.Info("Migrations reverted successfully", "steps", what)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
