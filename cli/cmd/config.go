package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/crmarques/portsync/config"
	"github.com/crmarques/portsync/faults"
)

func newConfigCommand(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: groupUserFacing,
		Short:   "Inspect and switch context catalog entries",
	}

	cmd.AddCommand(newConfigViewCommand(global))
	cmd.AddCommand(newConfigUseCommand(global))
	return cmd
}

func newConfigViewCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the resolved context catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := config.LoadCatalog(config.CatalogPath(global.catalogFile))
			if err != nil {
				return err
			}

			redactCatalog(&catalog)
			encoded, err := yaml.Marshal(catalog)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}

func newConfigUseCommand(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "use <context>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.CatalogPath(global.catalogFile)
			catalog, err := config.LoadCatalog(path)
			if err != nil {
				return err
			}

			if _, err := catalog.Select(args[0]); err != nil {
				return faults.NewTypedError(faults.ValidationError, "unknown context "+args[0], err)
			}

			catalog.CurrentCtx = args[0]
			if err := config.SaveCatalog(path, catalog); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to context %q\n", args[0])
			return nil
		},
	}
}

// redactCatalog blanks credentials before printing.
func redactCatalog(catalog *config.Catalog) {
	for idx := range catalog.Contexts {
		auth := catalog.Contexts[idx].Gateway.Auth
		if auth == nil {
			continue
		}
		if auth.ClientCredentials != nil {
			auth.ClientCredentials.ClientSecret = "<redacted>"
		}
		if auth.BearerToken != nil {
			auth.BearerToken.Token = "<redacted>"
		}
		if auth.CustomHeader != nil {
			auth.CustomHeader.Token = "<redacted>"
		}
	}
}
