package output

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/tanq16/kestrel/internal/registry"
)

// TerminalWidth falls back to 80 columns when stdout is not a terminal.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// Truncate shortens s to at most n runes, keeping the tail, which for paths
// is the useful end.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}

// RecordsTable renders registry records, newest first, as they come from
// List. Paths are trimmed to fit width.
func RecordsTable(records []registry.Record, width int, now time.Time) string {
	pathWidth := max(20, width-60)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(debugStyle).
		Headers("NAME", "SIZE", "SAVED", "PATH").
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Inherit(headerStyle)
			}
			if col == 3 {
				return s.Inherit(debugStyle)
			}
			return s
		})
	for _, rec := range records {
		t.Row(
			rec.Name,
			humanize.Bytes(uint64(max(rec.Size, 0))),
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			Truncate(rec.Path, pathWidth),
		)
	}
	return t.String()
}
