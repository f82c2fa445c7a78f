package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/edoagree/internal/mcptools"
	"github.com/dusk-indust/edoagree/internal/scaffold"
)

func newServeMCPCmd(flags *cliFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Expose the registries as read-only MCP tools (stdio, or HTTP with --http)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			companies, err := a.companies("")
			if err != nil {
				return err
			}
			server := mcptools.NewRegistryServer(a.store, companies)
			if addr != "" {
				return mcptools.RunHTTP(ctx, server, addr, a.logger.Named("mcp"))
			}
			return mcptools.RunStdio(ctx, server)
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "serve streamable HTTP on this address instead of stdio")
	return cmd
}

func newInitCmd(flags *cliFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create edoagree.yml, .env.example, templates/ and the .mcp.json entry in --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if err := scaffold.Init(flags.Dir, force, out); err != nil {
				return err
			}
			fmt.Fprintln(out, "\nSetup complete. Put the agreement templates into templates/ and the secrets into .env.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}
