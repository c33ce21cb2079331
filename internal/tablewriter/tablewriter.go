// Package tablewriter renders small ASCII tables for the text renderer's
// summaries. Cell widths are measured in display cells with go-runewidth,
// ANSI color codes excluded, so colored and wide-rune cells still align.
package tablewriter

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Writer accumulates a header and rows, then renders them as a bordered
// table with every column sized to its widest cell.
type Writer struct {
	out     io.Writer
	headers []string
	rows    [][]string
	widths  []int
	columns int
}

// NewWriter creates a table writer targeting w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// SetHeader sets the header row and fixes the column count: later rows are
// padded or truncated to it.
func (t *Writer) SetHeader(headers []string) {
	t.headers = headers
	t.columns = len(headers)
	t.measure(headers)
}

// Append adds one data row.
func (t *Writer) Append(row []string) {
	t.rows = append(t.rows, row)
	t.measure(row)
}

func (t *Writer) measure(row []string) {
	limit := len(row)
	if t.columns > 0 && limit > t.columns {
		limit = t.columns
	}
	for len(t.widths) < limit {
		t.widths = append(t.widths, 0)
	}
	for i := 0; i < limit; i++ {
		if w := cellWidth(row[i]); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	if t.columns == 0 {
		t.columns = len(t.widths)
	}
}

// Render writes the table. An empty table writes nothing.
func (t *Writer) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}
	t.writeBorder()
	if len(t.headers) > 0 {
		t.writeRow(t.headers)
		t.writeBorder()
	}
	for _, row := range t.rows {
		t.writeRow(row)
	}
	t.writeBorder()
}

func (t *Writer) writeBorder() {
	var b strings.Builder
	b.WriteByte('+')
	for _, width := range t.widths {
		b.WriteString(strings.Repeat("-", width+2))
		b.WriteByte('+')
	}
	fmt.Fprintln(t.out, b.String())
}

func (t *Writer) writeRow(row []string) {
	var b strings.Builder
	b.WriteByte('|')
	for i, width := range t.widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		pad := width - cellWidth(cell)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(&b, " %s%s |", cell, strings.Repeat(" ", pad))
	}
	fmt.Fprintln(t.out, b.String())
}

// cellWidth measures a cell in display cells, ANSI escapes excluded.
func cellWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

func stripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
