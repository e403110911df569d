package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "List the volumes a full scan would cover",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vols, err := scan.ListVolumes(cmd.Context())
		if err != nil {
			return err
		}
		ui.PrintVolumes(cmd.OutOrStdout(), vols)
		return nil
	},
}
