package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/gridveg-dates/internal/cli"
	"github.com/Veraticus/gridveg-dates/internal/common"
	"github.com/Veraticus/gridveg-dates/internal/config"
	"github.com/Veraticus/gridveg-dates/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the local or staging warehouse schema",
		Long: `Create the survey and reference tables and their indexes in a SQLite or
PostgreSQL warehouse. BigQuery tables are managed outside gridfix.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Warehouse.Driver == config.DriverBigQuery {
		return common.NewUserError("migrate only applies to the sqlite and postgres drivers", common.ErrInvalidConfig)
	}

	wh, err := openSQL(ctx, cfg, storage.Tables{Records: cfg.RecordsTable(), References: cfg.ReferencesTable()}, !status)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = wh.Close() }()

	out := cmd.OutOrStdout()
	if status {
		version, verErr := wh.SchemaVersion(ctx)
		if verErr != nil {
			fmt.Fprintln(out, cli.FormatWarning("Schema not initialized. Run: gridfix migrate"))
			return nil
		}
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Schema version %d of %d", version, storage.ExpectedSchemaVersion)))
		return nil
	}

	slog.Info("Running database migrations",
		"driver", wh.Dialect(),
		"table", cfg.RecordsTable().String())

	if err := wh.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Schema is at version %d", storage.ExpectedSchemaVersion)))
	return nil
}
