package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "push <job-id> <filename>...",
		Short: "Mark results for correction and push them to CVAT",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, done, err := ctx.openView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer done()

			if _, err := settle(cmd.Context(), v); err != nil {
				return err
			}

			seen := make(map[string]bool, len(args)-1)
			for _, name := range args[1:] {
				if seen[name] {
					continue
				}
				seen[name] = true
				if _, err := v.Toggle(name); err != nil {
					return fmt.Errorf("select %s: %w", name, err)
				}
			}

			count := len(v.Snapshot().Selection)
			res, err := v.Push(cmd.Context())
			if err != nil {
				printNotices(cmd.ErrOrStderr(), v.Snapshot().Notices)
				return fmt.Errorf("push to CVAT: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d images to CVAT\n", count)
			if res.TaskURL != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.TaskURL)
			}
			return nil
		},
	}
}
