package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/gridveg-dates/internal/cli"
	"github.com/Veraticus/gridveg-dates/internal/pattern"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Diagnose the corruption pattern behind mismatched dates",
		Long: `Test each corruption hypothesis (fixed year offset, day and year
transposition) against the mismatched rows and report how many rows each one
explains, with a breakdown of the year, month and day differences.
Purely diagnostic; nothing is modified.`,
		RunE: runAnalyze,
	}

	cmd.Flags().Float64("threshold", pattern.DefaultThreshold, "minimum score for a hypothesis to be recommended")
	cmd.Flags().Int("max-offset", 0, "largest year offset to test (default from config)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	maxOffset, _ := cmd.Flags().GetInt("max-offset")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	preview, err := loadPreview(ctx, cfg)
	if err != nil {
		return err
	}

	analysis := cfg.PatternConfig()
	if maxOffset > 0 {
		analysis.MaxOffset = maxOffset
	}
	diag := pattern.NewAnalyzer(analysis).Analyze(preview.Classification.Mismatched())

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderDiagnosis(diag, threshold))
	return nil
}
