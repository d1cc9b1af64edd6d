package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/config"
)

var version = "dev"

func main() {
	err := newRootCmd(os.Stdout).ExecuteContext(context.Background())
	if err != nil {
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintln(os.Stderr, userErr.UserMessage)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string
	var logCloser io.Closer

	cmd := &cobra.Command{
		Use:   "gridfix",
		Short: "🌿 Repair corrupted survey dates in the gridVeg tables",
		Long: `gridfix finds gridVeg survey records whose dates were pushed into the
future by a faulty export, diagnoses the corruption pattern, and restores the
authoritative dates from the survey metadata table.

Corrections run as dry runs unless --dry-run=false and --confirm are both given.
A verified backup is always written before the table is modified.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			closer, err := initConfig(cfgFile)
			if err != nil {
				return err
			}
			logCloser = closer
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}
	cmd.SetOut(out)

	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/gridfix/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	cmd.PersistentFlags().String("log-dir", "", "also write logs to a timestamped file in this directory")
	cmd.PersistentFlags().String("cutoff", "", "latest valid survey date, YYYY-MM-DD (default: Dec 31 of the current year)")
	cmd.PersistentFlags().Int("samples", 5, "sample rows shown per section")

	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.dir", cmd.PersistentFlags().Lookup("log-dir"))
	_ = viper.BindPFlag("correction.cutoff", cmd.PersistentFlags().Lookup("cutoff"))
	_ = viper.BindPFlag("analysis.samples", cmd.PersistentFlags().Lookup("samples"))

	cmd.AddCommand(investigateCmd())
	cmd.AddCommand(analyzeCmd())
	cmd.AddCommand(fixCmd())
	cmd.AddCommand(backupCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func initConfig(cfgFile string) (io.Closer, error) {
	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "gridfix"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GRIDFIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	closer, err := common.SetupLogger(common.LogConfig{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
		Dir:    config.ExpandPath(viper.GetString("logging.dir")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		slog.Debug("Loaded config", "file", used)
	}
	return closer, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gridfix %s\n", version)
		},
	}
}
