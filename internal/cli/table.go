package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2
	// maxCellWidth bounds unstyled cells; styled cells are left intact.
	maxCellWidth = 96
)

// writeTable writes left-aligned columns sized to their widest cell.
// Widths are measured on the visible text so styled cells line up.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	cols := len(headers)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	measure(headers)
	for i, row := range rows {
		rows[i] = clipRow(row)
		measure(rows[i])
	}

	w := bufio.NewWriter(out)
	emit := func(row []string) {
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			w.WriteString(cell)
			if i < cols-1 {
				w.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+tablePadding))
			}
		}
		w.WriteByte('\n')
	}
	if len(headers) > 0 {
		emit(headers)
	}
	for _, row := range rows {
		emit(row)
	}
	return w.Flush()
}

func clipRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		if !strings.Contains(cell, "\x1b") {
			cell = runewidth.Truncate(cell, maxCellWidth, "...")
		}
		out[i] = cell
	}
	return out
}
