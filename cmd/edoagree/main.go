package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set by goreleaser at build time.
var version = "dev"

// CLI flags shared by every subcommand.
type cliFlags struct {
	Dir     string
	Company string
	Verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "edoagree",
		Short:         "Generate EDI agreements for new counterparties and send them through Diadoc",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.Dir, "dir", ".", "working directory holding edoagree.yml, .env and templates/")
	root.PersistentFlags().StringVarP(&flags.Company, "company", "c", "kadis", "sending company code")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(flags),
		newPeriodCmd(flags),
		newSeedCmd(flags),
		newStatusCmd(flags),
		newExportCmd(flags),
		newServeMCPCmd(flags),
		newInitCmd(flags),
	)
	return root
}
