package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var findCmd = &cobra.Command{
	Use:   "find <text> [path...]",
	Short: "Find files whose name contains text",
	Long:  "Case-insensitive search on file names. Protected paths are skipped.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		a, err := newApp(ctx, out, false)
		if err != nil {
			return err
		}
		vols, err := a.volumes(ctx, args[1:])
		if err != nil {
			return err
		}

		s := a.searcher()
		matches, err := s.ByName(ctx, vols, args[0])
		for _, w := range s.Warnings() {
			a.log.Debug("search warning", zap.String("detail", w))
		}
		if err != nil {
			return err
		}
		ui.PrintMatches(out, fmt.Sprintf("Files matching %q", args[0]), matches)
		return nil
	},
}
