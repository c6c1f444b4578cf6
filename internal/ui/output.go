package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Table renders aligned text columns to a writer
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	right   map[int]bool
}

// NewTable creates a table with the given header row
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:       w,
		headers: headers,
		right:   make(map[int]bool),
	}
}

// AlignRight right-aligns the given column indexes. Numeric columns such as
// device sizes read better against a ragged left edge.
func (t *Table) AlignRight(columns ...int) {
	for _, col := range columns {
		t.right[col] = true
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Print writes the table. An empty table writes nothing, not even headers.
func (t *Table) Print() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	t.printRow(t.headers, widths)
	for _, row := range t.rows {
		t.printRow(row, widths)
	}
}

func (t *Table) printRow(cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i < len(widths) {
			parts[i] = pad(cell, widths[i], t.right[i])
		} else {
			parts[i] = cell
		}
	}
	line := strings.TrimRight(strings.Join(parts, "  "), " ")
	fmt.Fprintln(t.w, line)
}

func pad(s string, length int, right bool) string {
	if len(s) >= length {
		return s
	}
	fill := strings.Repeat(" ", length-len(s))
	if right {
		return fill + s
	}
	return s + fill
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
