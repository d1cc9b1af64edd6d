package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/gridveg-dates/internal/backup"
	"github.com/Veraticus/gridveg-dates/internal/cli"
	"github.com/Veraticus/gridveg-dates/internal/config"
	"github.com/Veraticus/gridveg-dates/internal/model"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and list table backups",
	}
	cmd.PersistentFlags().Bool("references", false, "operate on the reference table instead of the survey table")

	cmd.AddCommand(backupCreateCmd())
	cmd.AddCommand(backupListCmd())
	return cmd
}

func backupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Write a verified snapshot of a table to the backup store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			wh, err := openWarehouse(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open warehouse: %w", err)
			}
			defer closeWarehouse(wh)

			store, release, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			manager := backup.NewManager(wh.Extractor(), store, backup.WithRetry(cfg.Retry))
			snapshot, err := manager.Snapshot(ctx, backupTable(cmd, cfg))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSnapshot(snapshot))
			return nil
		},
	}
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots of a table, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			store, release, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			table := backupTable(cmd, cfg)
			// Listing needs no warehouse connection.
			snapshots, err := backup.NewManager(nil, store, backup.WithRetry(cfg.Retry)).List(ctx, table)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), cli.RenderBackups(table, snapshots))
			return nil
		},
	}
}

func backupTable(cmd *cobra.Command, cfg *config.Config) model.TableRef {
	if refs, _ := cmd.Flags().GetBool("references"); refs {
		return cfg.ReferencesTable()
	}
	return cfg.RecordsTable()
}
