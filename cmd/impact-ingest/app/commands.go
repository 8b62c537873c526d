// Package app provides the command line interface of the impact ingestion service.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/logging"
	"github.com/impactledger/impact-ingest/internal/versions"
)

// flushLogs is replaced once logging is configured
var flushLogs = func() error { return nil }

var rootCmd = &cobra.Command{
	Use:               "impact-ingest",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "Donation disclosure ingestion service",
	Long: `impact-ingest collects donation amounts from public disclosure filings of listed
companies and writes them as monthly KPI records.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return configureLogging()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = flushLogs()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the ingestion service.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)

	return rootCmd
}

// configureLogging installs the process-wide slog handler.
// Output goes to stderr to keep stdout clean for commands that print data.
func configureLogging() error {
	level := getLogLevel()
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}

	v := newEnvViper()
	handler, sync := logging.NewHandler(
		logging.WithLevel(level),
		logging.WithFormat(v.GetString("LOG_FORMAT")),
	)
	slog.SetDefault(slog.New(handler))
	flushLogs = sync
	return nil
}

// getLogLevel reads IMPACT_INGEST_LOG_LEVEL, falling back to LOG_LEVEL.
// Defaults to info if neither is set or the value is invalid.
func getLogLevel() slog.Level {
	levelStr := newEnvViper().GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// loadConfig reads the configuration file named by path
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", path, "storage", cfg.GetStorage().GetType())
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format version info as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}
