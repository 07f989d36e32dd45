package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/crmarques/portsync/config"
)

const (
	groupUtility    = "utility"
	groupUserFacing = "user"
)

var rootCmd = newRootCommand()

func Execute() error {
	return rootCmd.Execute()
}

func NewRootCommand() *cobra.Command {
	return newRootCommand()
}

func newRootCommand() *cobra.Command {
	var globalFlags globalFlags

	cmd := &cobra.Command{
		Use:   "portsync",
		Short: "Reconcile local catalog declarations against the management platform",
		Long: `portsync keeps locally declared blueprints, scorecards, and integration
mappings in sync with the remote management platform, treating the local
files as the source of truth.

Each run loads the declarations, fetches the live remote state, shows a
field-level change plan, and applies the confirmed changes as idempotent
create or update operations.`,
		Example: `  # Preview blueprint changes without touching the platform
  portsync sync blueprint -d ./blueprints --dry-run

  # Apply scorecards, skipping the confirmation prompt
  portsync sync scorecard -f ./scorecards/quality.json --no-prompt

  # Force an update even when the remote was edited moments ago
  portsync sync blueprint -f service.json --force`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetHelpCommandGroupID(groupUtility)
	cmd.SetCompletionCommandGroupID(groupUtility)

	// Legacy flag spellings with underscores still resolve.
	cmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().StringVar(&globalFlags.contextName, "context", "", "Catalog context to use for this run")
	cmd.PersistentFlags().StringVar(&globalFlags.catalogFile, "contexts-file", "", "Path to the context catalog file")
	cmd.PersistentFlags().CountVarP(&globalFlags.verbosity, "verbose", "v", "Increase log verbosity")

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
	}

	cmd.AddGroup(&cobra.Group{ID: groupUserFacing, Title: "Commands:"})
	cmd.AddGroup(&cobra.Group{ID: groupUtility, Title: "Utility Commands:"})

	cmd.AddCommand(newSyncCommand(&globalFlags))
	cmd.AddCommand(newConfigCommand(&globalFlags))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

type globalFlags struct {
	contextName string
	catalogFile string
	verbosity   int
}
