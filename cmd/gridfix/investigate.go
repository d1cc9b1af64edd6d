package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/gridveg-dates/internal/classification"
	"github.com/Veraticus/gridveg-dates/internal/cli"
	"github.com/Veraticus/gridveg-dates/internal/config"
	"github.com/Veraticus/gridveg-dates/internal/engine"
)

func investigateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "investigate",
		Short: "Classify survey dates against the reference table",
		Long: `Join every survey record to its reference date and report how many
distinct survey dates are in the future, mismatched, missing a reference or
correct. Also reports reference coverage and the correction plan a fix would
apply. Nothing is modified.`,
		RunE: runInvestigate,
	}
}

func runInvestigate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	preview, err := loadPreview(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	samples := cfg.Analysis.Samples
	cov := classification.ComputeCoverage(preview.Records, preview.References, cfg.Correction.Cutoff)

	fmt.Fprintln(out, cli.RenderClassification(preview.Classification, samples))
	fmt.Fprintln(out, cli.RenderCoverage(cov, samples))
	fmt.Fprintln(out, cli.RenderPlan(preview.Plan, preview.Gaps, samples))
	fmt.Fprint(out, cli.RenderStaleYears(preview.StaleYears))
	return nil
}

// loadPreview reads both tables and classifies them without touching
// backups or mutating anything.
func loadPreview(ctx context.Context, cfg *config.Config) (*engine.Preview, error) {
	wh, err := openWarehouse(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	defer closeWarehouse(wh)

	slog.Info("Loading survey data",
		"table", cfg.RecordsTable().String(),
		"reference_table", cfg.ReferencesTable().String(),
		"cutoff", cfg.Correction.Cutoff.String())

	eng := engine.New(wh.Records(), wh.References(), nil, engineConfig(cfg))
	preview, err := eng.Preview(ctx)
	if err != nil {
		return nil, err
	}
	return preview, nil
}
