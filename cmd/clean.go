package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/clearfile/internal/backup"
	"github.com/lakshaymaurya-felt/clearfile/internal/pipeline"
	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var (
	dryRun     bool
	assumeYes  bool
	archiveTag string
)

var cleanCmd = &cobra.Command{
	Use:   "clean [path...]",
	Short: "Back up and delete rubbish files",
	Long: `Scan for rubbish files, archive them into a timestamped zip in the backup
directory and delete only the files that made it into the archive. Files that
are locked by a running process, changed after the backup, or sit under a
protected path are left alone. Archives older than retention_days are removed
after a successful run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if !backup.ValidTag(archiveTag) {
			return fmt.Errorf("%w: %q", backup.ErrInvalidTag, archiveTag)
		}

		a, err := newApp(ctx, out, !dryRun)
		if err != nil {
			return err
		}
		vols, err := a.volumes(ctx, args)
		if err != nil {
			return err
		}

		p := a.pipeline()
		if _, err := a.runPhase(ctx, p, "Scanning", pipeline.Job{Kind: pipeline.JobScan, Volumes: vols}); err != nil {
			return err
		}

		candidates := p.Candidates()
		fmt.Fprintln(out)
		ui.PrintCandidates(out, candidates, time.Now())
		if len(candidates) == 0 {
			return nil
		}

		if !dryRun && !assumeYes {
			ok, err := confirm(os.Stdin, out, fmt.Sprintf("Back up and delete %d files?", len(candidates)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "  Nothing deleted.")
				return nil
			}
		}

		title := "Cleaning"
		if dryRun {
			title = "Dry run"
		}
		summary, err := a.runPhase(ctx, p, title, pipeline.Job{
			Kind: pipeline.JobCleanup,
			Options: pipeline.Options{
				Tag:           archiveTag,
				DryRun:        dryRun,
				RetentionDays: cfg.RetentionDays,
			},
		})
		fmt.Fprintln(out)
		ui.PrintSummary(out, summary)

		if errors.Is(err, pipeline.ErrNoArchive) && errors.Is(err, backup.ErrNoFilesToBackup) {
			fmt.Fprintln(out, "  "+ui.TagWarningStyle().Render("No file could be backed up, so nothing was deleted."))
			return nil
		}
		return err
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be backed up and deleted without doing it")
	cleanCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	cleanCmd.Flags().StringVar(&archiveTag, "tag", backup.DefaultTag, "Tag written into the backup archive name")
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "\n  %s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
