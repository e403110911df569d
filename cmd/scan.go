package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/clearfile/internal/pipeline"
	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path...]",
	Short: "List rubbish files without touching them",
	Long: `Walk the given directories, or every mounted volume when none are given,
and list files whose extension is on the rubbish list and which are either
older than max_age_days or smaller than min_size_bytes. Protected paths are
never entered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cmd.OutOrStdout(), false)
		if err != nil {
			return err
		}
		vols, err := a.volumes(ctx, args)
		if err != nil {
			return err
		}

		p := a.pipeline()
		summary, err := a.runPhase(ctx, p, "Scanning", pipeline.Job{Kind: pipeline.JobScan, Volumes: vols})

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		ui.PrintCandidates(out, p.Candidates(), time.Now())
		if summary != nil {
			fmt.Fprintln(out)
			ui.PrintSummary(out, summary)
		}
		return err
	},
}
