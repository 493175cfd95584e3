// This file implements the tools command, listing the built-in catalog.
package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/ascent/core/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the built-in analysis tools",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	registry, err := tools.NewBuiltinRegistry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTAGE\tREADS\tWRITES")
	for _, desc := range registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			desc.Name, desc.Stage,
			strings.Join(desc.Effects.ReadsArtifacts, ","),
			strings.Join(desc.Effects.WritesArtifacts, ","))
	}
	return w.Flush()
}
