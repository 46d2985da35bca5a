package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// completionCmd generates shell completion scripts for xraysync.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for xraysync.

To install completions:

  Bash (Linux):
    xraysync completion bash | sudo tee /etc/bash_completion.d/xraysync > /dev/null

  Bash (macOS with Homebrew):
    xraysync completion bash > $(brew --prefix)/etc/bash_completion.d/xraysync

  Zsh:
    xraysync completion zsh > "${fpath[1]}/_xraysync"
    # or
    xraysync completion zsh > ~/.zsh/completions/_xraysync

  Fish:
    xraysync completion fish > ~/.config/fish/completions/xraysync.fish

  PowerShell:
    xraysync completion powershell > xraysync.ps1
    # Then add ". xraysync.ps1" to your PowerShell profile`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
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
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
