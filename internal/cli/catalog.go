package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/ashureev/videa/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with persona and bundle catalogs",
	}

	var path string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a catalog file",
		Long:  `Load and validate a catalog. Without --path the embedded default catalog is checked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			profiles, bundles := cat.Counts()
			source := path
			if source == "" {
				source = "embedded default"
			}
			fmt.Fprintf(out, "catalog OK (%s): %d personas, %d bundles\n\n", source, profiles, bundles)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PERSONA\tBUNDLE\tPREDICATES\tMAX SCORE\tMINUTES")
			for _, p := range cat.Profiles() {
				b, err := cat.BundleFor(p.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", p.ID, b.ID, len(p.Predicates), p.MaxScore(), b.TotalMinutes())
			}
			return tw.Flush()
		},
	}
	check.Flags().StringVar(&path, "path", "", "Catalog YAML file (default: embedded catalog)")

	cmd.AddCommand(check)
	return cmd
}
