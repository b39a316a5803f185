package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for pingcounter.

  bash:  source <(pingcounter completion bash)
         pingcounter completion bash | sudo tee /etc/bash_completion.d/pingcounter
  zsh:   pingcounter completion zsh > "${fpath[1]}/_pingcounter"
  fish:  pingcounter completion fish > ~/.config/fish/completions/pingcounter.fish
  pwsh:  pingcounter completion powershell | Out-String | Invoke-Expression

Counter names complete from the configuration file for run-time commands
and from the history database for history and alerts.`,
	DisableFlagsInUseLine: true,
	Annotations:           map[string]string{skipApp: ""},
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
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

// completeCounterNames completes the counter ids of the configuration.
func completeCounterNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var ids []string
	for _, c := range appInstance.Config.Counters {
		ids = append(ids, c.ID)
	}
	return filterPrefix(ids, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// completeRecordedCounters completes every counter name found in the
// history database, including counters no longer configured.
func completeRecordedCounters(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	store, err := appInstance.Storage()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	names, err := store.GetCounterNames(context.Background())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return filterPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func filterPrefix(candidates []string, prefix string) []string {
	var completions []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), strings.ToLower(prefix)) {
			completions = append(completions, c)
		}
	}
	return completions
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
