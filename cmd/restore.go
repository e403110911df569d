package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var restoreTarget string

var restoreCmd = &cobra.Command{
	Use:   "restore <archive>",
	Short: "Restore the files in a backup archive",
	Long: `Extract every file in a backup archive. Files go back to their original
location unless --target is given. An existing file is never overwritten; the
restored copy is written next to it with a _restored suffix. A bare archive
name is looked up in the backup directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		a, err := newApp(ctx, out, true)
		if err != nil {
			return err
		}

		archive := args[0]
		if filepath.Base(archive) == archive {
			archive = filepath.Join(a.store.Dir(), archive)
		}

		res, err := a.store.Restore(ctx, archive, restoreTarget)
		if err != nil {
			return err
		}
		runMetrics.RecordRestore(len(res.Restored), len(res.Failed))
		a.log.Info("restore finished",
			zap.String("archive", archive),
			zap.Int("restored", len(res.Restored)),
			zap.Int("failed", len(res.Failed)))

		ui.PrintRestore(out, res)
		if len(res.Failed) > 0 && len(res.Restored) == 0 {
			return fmt.Errorf("no file restored from %s", archive)
		}
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "Restore every file into this directory instead of its original location")
}
