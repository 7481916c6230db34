package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/takak2166/confluence2local/internal/report"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show previous export runs, or the skipped items of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := report.OpenManifest(cfg.Export.Manifest)
		if err != nil {
			return err
		}
		defer manifest.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if len(args) == 1 {
			items, err := manifest.Items(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "KIND\tID\tTITLE\tREASON")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.Kind, it.ID, it.Title, it.Reason)
			}
			return w.Flush()
		}

		runs, err := manifest.Runs(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tPAGES\tATTACHMENTS\tSKIPPED\tUNRESOLVED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.RunID,
				r.Started.Format(time.RFC3339),
				r.Finished.Sub(r.Started).Round(time.Second),
				r.Status,
				r.Pages, r.Attachments, r.Skips, r.UnresolvedLinks)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show, 0 for all")
	rootCmd.AddCommand(historyCmd)
}
