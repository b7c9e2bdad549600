package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Wait for an inference job to finish and list its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, done, err := ctx.openView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			first := v.Snapshot()
			if first.Running {
				fmt.Fprintln(out, first.StatusMessage)
			}

			snap, err := settle(cmd.Context(), v)
			printNotices(cmd.ErrOrStderr(), snap.Notices)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Inference %s (dataset %s): %d results\n", snap.JobID, snap.DatasetID, len(snap.Entries))
			if len(snap.Entries) > 0 {
				fmt.Fprintln(out, renderEntries(snap))
			}
			return nil
		},
	}
}
