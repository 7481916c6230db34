package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List the spaces visible to the configured user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		spaces, err := client.ListSpaces(cmd.Context(), nil)
		if err != nil {
			return err
		}
		sort.Slice(spaces, func(i, j int) bool { return spaces[i].Key < spaces[j].Key })

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tHOMEPAGE")
		for _, s := range spaces {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Name, s.HomepageID)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(spacesCmd)
}
