// Package rowtable reads and writes the input/output row table: a
// header-plus-rows CSV of UTF-8 text records. The core reads the whole
// table into memory, mutates one output column per row in place, and
// flushes it back atomically via write-temp + rename, grounded on the
// teacher's FileStore.writeJSON idiom (storage/file.go) adapted from
// JSON to CSV.
package rowtable

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Row is one input record. Fields holds every column by name, including
// the output column once a worker has written it; Index is the 0-based,
// dense row identity used throughout the core.
type Row struct {
	Index  int
	Fields map[string]string
}

// Get returns the raw value of column, or "" if the column is absent.
func (r *Row) Get(column string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[column]
}

// Table is the in-memory row table. The Orchestrator owns it exclusively;
// workers must only touch it through Table's own locked methods (spec.md
// §3's "Ownership & lifecycle" rule).
type Table struct {
	mu      sync.Mutex
	header  []string
	rows    []*Row
	sourcePath string
}

// Load reads a CSV file into a Table. The first row is treated as the
// header; every subsequent row becomes a Row indexed densely from 0.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open row table %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse row table %s: %w", path, err)
	}
	if len(records) == 0 {
		return &Table{sourcePath: path}, nil
	}

	header := records[0]
	rows := make([]*Row, 0, len(records)-1)
	for i, record := range records[1:] {
		fields := make(map[string]string, len(header))
		for col, name := range header {
			if col < len(record) {
				fields[name] = record[col]
			} else {
				fields[name] = ""
			}
		}
		rows = append(rows, &Row{Index: i, Fields: fields})
	}
	return &Table{header: header, rows: rows, sourcePath: path}, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Row returns a shallow copy of row idx's fields, safe to read without
// holding the table lock afterward. Returns false if idx is out of range.
func (t *Table) Row(idx int) (Row, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.rows) {
		return Row{}, false
	}
	src := t.rows[idx]
	fields := make(map[string]string, len(src.Fields))
	for k, v := range src.Fields {
		fields[k] = v
	}
	return Row{Index: src.Index, Fields: fields}, true
}

// SetField writes a single column value into row idx under the table's
// exclusive lock. Used exactly once per row by a RowWorker to write the
// output image-path column (spec.md §4.9 step 8).
func (t *Table) SetField(idx int, column, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.rows) {
		return fmt.Errorf("row index %d out of range (len=%d)", idx, len(t.rows))
	}
	t.rows[idx].Fields[column] = value
	if !containsColumn(t.header, column) {
		t.header = append(t.header, column)
	}
	return nil
}

func containsColumn(header []string, column string) bool {
	for _, h := range header {
		if h == column {
			return true
		}
	}
	return false
}

// Flush writes the current table state to path atomically: encode to a
// temp file in the same directory, fsync, then rename over the
// destination. A crash mid-flush leaves the previous file intact.
func (t *Table) Flush(path string) error {
	t.mu.Lock()
	header := append([]string(nil), t.header...)
	rows := make([]*Row, len(t.rows))
	copy(rows, t.rows)
	t.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-rowtable-*")
	if err != nil {
		return fmt.Errorf("failed to create temp row table: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = row.Fields[col]
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write row %d: %w", row.Index, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush csv writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp row table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp row table: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp row table into place: %w", err)
	}
	return nil
}

// OutputFilename builds the "ad_NNNN.<ext>" filename for a 0-based row
// index, per spec.md §6: NNNN is the 1-based index, zero-padded to 4
// digits.
func OutputFilename(index int, ext string) string {
	return fmt.Sprintf("ad_%04d.%s", index+1, ext)
}
