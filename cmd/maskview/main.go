// Command maskview inspects inference jobs from the terminal: it waits for a
// job to finish, lists its results, pushes selected images to CVAT and
// downloads the result archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
