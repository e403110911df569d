package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var minSize string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path...]",
	Short: "List the largest files",
	Long:  "Find files at or above --min-size, largest first. Protected paths are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		threshold, err := ui.ParseSize(minSize)
		if err != nil {
			return fmt.Errorf("invalid --min-size: %w", err)
		}

		a, err := newApp(ctx, out, false)
		if err != nil {
			return err
		}
		vols, err := a.volumes(ctx, args)
		if err != nil {
			return err
		}

		s := a.searcher()
		matches, err := s.BigFiles(ctx, vols, threshold)
		for _, w := range s.Warnings() {
			a.log.Debug("search warning", zap.String("detail", w))
		}
		if err != nil {
			return err
		}
		ui.PrintMatches(out, "Files of "+ui.FormatSize(threshold)+" or more", matches)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&minSize, "min-size", "100MB", "Minimum size to list (e.g., 100MB)")
}
