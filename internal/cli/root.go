// Package cli implements videactl, the operator command line for a Videa deployment.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	dbPath string
}

// NewRootCmd builds the videactl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "videactl",
		Short: "Inspect Videa catalogs, sessions and the language model gateway",
		Long: `videactl is the operator tool for the Videa training advisor.

Quick Start:
  videactl catalog check --path catalog.yaml   # Validate a catalog before deploying it
  videactl session list --state CONFIRMED      # Recent sessions
  videactl session show <session-id>           # Full transcript of one session
  videactl gateway check                       # Probe the configured language model`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/videa.db"
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", defaultDB, "Path to the SQLite database")

	root.AddCommand(newCatalogCmd(), newSessionCmd(opts), newGatewayCmd())
	return root
}

// Execute runs videactl and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
