package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/kiranshivaraju/maskview/internal/blob"
	"github.com/kiranshivaraju/maskview/internal/viewer"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

func renderEntries(snap viewer.Snapshot) string {
	headers := []string{"#", "File", "Source", "Class mask", "Instance mask", "Status"}
	aligns := []columnAlignment{alignRight}

	rows := make([][]string, 0, len(snap.Entries))
	for i, e := range snap.Entries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			e.Filename,
			slotLabel(e.Slots.Get(models.ArtifactSource), e.Placeholder),
			slotLabel(e.Slots.Get(models.ArtifactClassMask), "-"),
			slotLabel(e.Slots.Get(models.ArtifactInstanceMask), "-"),
			e.Caption,
		})
	}
	return renderTable(headers, rows, aligns)
}

func slotLabel(h *blob.Handle, missing string) string {
	if h == nil {
		return missing
	}
	return humanBytes(h.Size)
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func printNotices(w io.Writer, notices []viewer.Notice) {
	for _, n := range notices {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
}
