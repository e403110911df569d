package cmd

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Show version information",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipSetupAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cf %s\n", appVersion)
		fmt.Fprintf(out, "  commit:  %s\n", appCommit)
		fmt.Fprintf(out, "  built:   %s\n", appDate)
		fmt.Fprintf(out, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

		if info, err := host.InfoWithContext(cmd.Context()); err == nil {
			fmt.Fprintf(out, "  host:    %s %s (%s)\n", info.Platform, info.PlatformVersion, info.KernelArch)
		}
		return nil
	},
}
