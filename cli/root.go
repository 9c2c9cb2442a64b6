package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the toolversions root command. Running it without a
// subcommand performs an update.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "toolversions",
		Short: "Keep a tool version manifest current",
		Long:  "toolversions reads a manifest of tool names and versions, looks up the latest version of each tool in a package index, and writes the manifest back.",
		Args:  cobra.NoArgs,
		RunE:  RunUpdate,
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "q", false, "Print only lookup failures and errors")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("toolversions version %s\n", version))

	AddUpdateFlags(root)
	root.AddCommand(NewUpdateCmd())
	root.AddCommand(NewListCmd())
	return root
}
