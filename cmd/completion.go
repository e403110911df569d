package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate a shell completion script",
	Long: `Print a completion script for the given shell.

PowerShell:
  cf completion powershell | Out-String | Invoke-Expression

Bash:
  source <(cf completion bash)`,
	Args:        cobra.ExactArgs(1),
	ValidArgs:   []string{"bash", "zsh", "fish", "powershell"},
	Annotations: map[string]string{skipSetupAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := os.Stdout
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return fmt.Errorf("unsupported shell %q", args[0])
		}
	},
}
