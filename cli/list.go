package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolversions/manifest"
)

// NewListCmd creates the "list" subcommand. It reads the manifest only and
// makes no network requests.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the tools and versions recorded in the manifest",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	addManifestFlags(cmd)
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return manifestExitError(cfg.Manifest, err)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tVERSION")
	for _, entry := range m.Entries() {
		version := entry.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\n", entry.Name, version)
	}
	return writer.Flush()
}
