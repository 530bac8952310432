package deid

import "fmt"

// Dataset is the engine's columnar input: named columns over loosely typed
// rows. Cell values are whatever the caller decoded (string, float64, int,
// nil, ...); transforms stringify as needed and skip what they cannot read.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewDataset builds a dataset and checks that every row matches the column
// count, so downstream passes can index without bounds worries.
func NewDataset(columns []string, rows [][]any) (*Dataset, error) {
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("dataset: row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	return &Dataset{Columns: columns, Rows: rows}, nil
}

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColumnNames implements phi.Table.
func (d *Dataset) ColumnNames() []string {
	return d.Columns
}

// ColumnValues implements phi.Table. Row order is preserved; unknown
// columns return nil.
func (d *Dataset) ColumnValues(name string) []any {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[idx]
	}
	return out
}

// Clone deep-copies the dataset shape. Cell values are copied by value;
// callers must not hand in rows holding shared mutable pointers.
func (d *Dataset) Clone() *Dataset {
	cols := make([]string, len(d.Columns))
	copy(cols, d.Columns)
	rows := make([][]any, len(d.Rows))
	for i, row := range d.Rows {
		r := make([]any, len(row))
		copy(r, row)
		rows[i] = r
	}
	return &Dataset{Columns: cols, Rows: rows}
}

// stringValue renders a cell for hashing, matching, or grouping. nil
// renders empty.
func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
