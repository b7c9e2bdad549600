package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/maskview/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "List past pushes of a job to CVAT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("push history requires DATABASE_URL")
			}

			pool, err := store.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			records, total, err := store.NewPostgresStore(pool).ListPushRecords(cmd.Context(), store.PushFilter{
				JobID: args[0],
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("list pushes: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No pushes recorded")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					r.CreatedAt.Local().Format(time.DateTime),
					strconv.Itoa(len(r.Filenames)),
					strings.Join(r.Filenames, ", "),
					r.TaskURL,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Pushed", "Images", "Files", "Task"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			if total > len(records) {
				fmt.Fprintf(out, "%d of %d pushes shown\n", len(records), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of pushes to list")
	return cmd
}
