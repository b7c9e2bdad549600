package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the result archive of a completed inference job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, done, err := ctx.openView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer done()

			if _, err := settle(cmd.Context(), v); err != nil {
				return err
			}

			archive, err := v.Download(cmd.Context())
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}
			defer archive.Body.Close()

			path := filepath.Join(outDir, archive.Filename)
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			n, err := io.Copy(f, archive.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(path)
				return fmt.Errorf("write %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", path, humanBytes(int(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Directory to write the archive to")
	return cmd
}
