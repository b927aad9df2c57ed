// Package ipynb reads and rewrites Jupyter notebook documents while preserving
// every field it does not understand.
package ipynb

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Cell types.
const (
	CodeCell     = "code"
	MarkdownCell = "markdown"
)

// ErrNotNotebook is returned when the document has no cells array.
var ErrNotNotebook = errors.New("ipynb: document has no cells")

// Document is a parsed notebook.
type Document struct {
	Cells  []Cell
	fields map[string]json.RawMessage
}

// Cell is one notebook cell. Source is the joined cell text.
type Cell struct {
	Type   string
	Source string
	fields map[string]json.RawMessage
}

// Parse decodes a notebook. The source of a cell may be a string or a list of strings.
func Parse(data []byte) (*Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("ipynb: decode: %w", err)
	}
	rawCells, ok := fields["cells"]
	if !ok {
		return nil, ErrNotNotebook
	}
	var cells []map[string]json.RawMessage
	if err := json.Unmarshal(rawCells, &cells); err != nil {
		return nil, fmt.Errorf("ipynb: decode cells: %w", err)
	}

	doc := &Document{fields: fields, Cells: make([]Cell, 0, len(cells))}
	for i, cf := range cells {
		c := Cell{fields: cf}
		if t, ok := cf["cell_type"]; ok {
			if err := json.Unmarshal(t, &c.Type); err != nil {
				return nil, fmt.Errorf("ipynb: cell %d: cell_type: %w", i, err)
			}
		}
		if s, ok := cf["source"]; ok {
			src, err := decodeSource(s)
			if err != nil {
				return nil, fmt.Errorf("ipynb: cell %d: source: %w", i, err)
			}
			c.Source = src
		}
		doc.Cells = append(doc.Cells, c)
	}
	return doc, nil
}

func decodeSource(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

// Code returns the sources of all code cells in document order.
func (d *Document) Code() []string {
	var out []string
	for _, c := range d.Cells {
		if c.Type == CodeCell {
			out = append(out, c.Source)
		}
	}
	return out
}

// RewriteCode replaces the source of every code cell with fn(source).
func (d *Document) RewriteCode(fn func(string) string) {
	for i := range d.Cells {
		if d.Cells[i].Type == CodeCell {
			d.Cells[i].Source = fn(d.Cells[i].Source)
		}
	}
}

// Prepend inserts cells before the first cell. Cell ids are dropped when the
// document predates nbformat 4.5, which does not allow them.
func (d *Document) Prepend(cells ...Cell) {
	head := make([]Cell, 0, len(cells)+len(d.Cells))
	for _, c := range cells {
		if _, ok := c.fields["id"]; ok && !d.cellIDs() {
			f := make(map[string]json.RawMessage, len(c.fields))
			for k, v := range c.fields {
				if k != "id" {
					f[k] = v
				}
			}
			c.fields = f
		}
		head = append(head, c)
	}
	d.Cells = append(head, d.Cells...)
}

// cellIDs reports whether the nbformat version supports cell ids (4.5+).
func (d *Document) cellIDs() bool {
	var major, minor int
	if err := json.Unmarshal(d.fields["nbformat"], &major); err != nil {
		return false
	}
	if err := json.Unmarshal(d.fields["nbformat_minor"], &minor); err != nil {
		return major > 4
	}
	return major > 4 || (major == 4 && minor >= 5)
}

// NewCodeCell returns an empty-output code cell with the given id and source.
// The id is omitted when the cell is prepended to a pre-4.5 document.
func NewCodeCell(id, source string) Cell {
	return Cell{
		Type:   CodeCell,
		Source: source,
		fields: map[string]json.RawMessage{
			"id":              mustRaw(id),
			"execution_count": json.RawMessage("null"),
			"metadata":        json.RawMessage("{}"),
			"outputs":         json.RawMessage("[]"),
		},
	}
}

// Marshal encodes the notebook the way Jupyter writes it: one-space indent,
// sources as lists of lines.
func (d *Document) Marshal() ([]byte, error) {
	cells := make([]map[string]json.RawMessage, 0, len(d.Cells))
	for _, c := range d.Cells {
		f := make(map[string]json.RawMessage, len(c.fields)+2)
		for k, v := range c.fields {
			f[k] = v
		}
		f["cell_type"] = mustRaw(c.Type)
		f["source"] = mustRaw(SplitLines(c.Source))
		cells = append(cells, f)
	}

	fields := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		fields[k] = v
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return nil, err
	}
	fields["cells"] = raw
	return json.MarshalIndent(fields, "", " ")
}

// SplitLines splits s into lines keeping the trailing newline of each line.
func SplitLines(s string) []string {
	lines := []string{}
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
