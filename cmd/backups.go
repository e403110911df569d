package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var (
	prune         bool
	retentionDays int
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backup archives",
	Long: `List the archives in the backup directory, newest first. With --prune,
archives older than the retention window are removed first. Archives whose
names do not carry a timestamp are never removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		a, err := newApp(ctx, out, true)
		if err != nil {
			return err
		}

		if prune {
			days := cfg.RetentionDays
			if cmd.Flags().Changed("retention-days") {
				days = retentionDays
			}
			res, err := a.store.CleanupOld(days)
			if err != nil {
				return err
			}
			runMetrics.RecordSweep(len(res.Removed))
			for _, f := range res.Failed {
				a.log.Warn("failed to remove archive", zap.String("path", f.Path), zap.String("reason", f.Reason))
			}
			fmt.Fprintf(out, "  Removed %d archives older than %d days.\n\n", len(res.Removed), days)
		}

		archives, err := a.store.List()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Backups in %s\n", a.store.Dir())
		ui.PrintArchives(out, archives)
		return nil
	},
}

func init() {
	backupsCmd.Flags().BoolVar(&prune, "prune", false, "Remove archives older than the retention window")
	backupsCmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Override retention_days for this prune")
}
