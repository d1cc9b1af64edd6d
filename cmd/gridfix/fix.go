package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/gridveg-dates/internal/backup"
	"github.com/Veraticus/gridveg-dates/internal/cli"
	"github.com/Veraticus/gridveg-dates/internal/engine"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
)

func fixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix",
		Short: "Restore future-dated survey records from the reference table",
		Long: `Run the correction workflow: preview the plan, back up the survey table,
apply one set-based update and validate that no future dates remain and every
year column agrees with its date.

By default this is a dry run that stops after the preview. Pass
--dry-run=false --confirm to modify the table. Survey ids without a single
usable reference date are reported and left untouched.`,
		RunE: runFix,
	}

	cmd.Flags().Bool("dry-run", true, "preview only; never back up or modify")
	cmd.Flags().Bool("confirm", false, "confirm the correction (required with --dry-run=false)")
	cmd.Flags().Float64("min-confidence", 0, "refuse to apply unless the best corruption hypothesis scores at least this (0 disables)")

	_ = viper.BindPFlag("correction.dry_run", cmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("correction.confirmed", cmd.Flags().Lookup("confirm"))
	_ = viper.BindPFlag("analysis.min_confidence", cmd.Flags().Lookup("min-confidence"))

	return cmd
}

func runFix(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context())

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

	backups := backup.NewManager(wh.Extractor(), store, backup.WithRetry(cfg.Retry))

	ec := engineConfig(cfg)
	ec.OnTransition = func(t engine.Transition) {
		interrupts.SetStage(t.To)
	}

	slog.Info("Running correction",
		"warehouse", cfg.Warehouse.Driver,
		"backup_store", store.URI(""),
		"dry_run", ec.DryRun,
		"confirmed", ec.Confirmed)

	res, runErr := engine.New(wh.Records(), wh.References(), backups, ec).Run(ctx)

	if res.Plan != nil {
		fmt.Fprintln(out, cli.RenderPlan(res.Plan, res.Gaps, cfg.Analysis.Samples))
	}
	if res.Diagnosis != nil {
		fmt.Fprintln(out, cli.RenderDiagnosis(*res.Diagnosis, minThreshold(ec.MinConfidence)))
	}
	fmt.Fprint(out, cli.RenderRunResult(res))

	if runErr != nil {
		return runErr
	}
	if interrupts.WasInterrupted() {
		return ctx.Err()
	}
	return nil
}

func minThreshold(minConfidence float64) float64 {
	if minConfidence > 0 {
		return minConfidence
	}
	return pattern.DefaultThreshold
}
