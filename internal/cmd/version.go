package cmd

import (
	"fmt"

	// register the built-in directives
	_ "github.com/nextdhcp/omapi-sync/core"
	"github.com/nextdhcp/omapi-sync/plugin"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of omapi-sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "omapi-sync %s\n", Version)
			return nil
		},
	}
}

func newDirectivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "directives",
		Short: "List the directives available to handler chains",
		Long: `List the directives registered for DHCP handler chains. The directives
are loaded by DHCP servers that embed omapi-sync using plugin.Load. The
reconcile and lookup commands only read the omapi block of the Omapifile.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range plugin.Directives() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
