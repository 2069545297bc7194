// Package sink writes harvested records as append-only newline-delimited
// JSON, one record per line in arrival order.
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Writer appends records to one NDJSON file. Sync must be called before the
// corresponding checkpoint save: output durability precedes checkpoint
// durability, or a resumed run could skip records that were never written.
type Writer struct {
	path string
	file *os.File
}

// Open opens the output file for appending, creating it if needed.
func Open(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &Writer{path: path, file: file}, nil
}

// Path returns the output file path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes records in order, one per line. Records are compacted onto a
// single line; their content is otherwise untouched.
func (w *Writer) Append(records []json.RawMessage) error {
	var buf bytes.Buffer
	for _, record := range records {
		if err := json.Compact(&buf, record); err != nil {
			return fmt.Errorf("compact record: %w", err)
		}
		buf.WriteByte('\n')
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append records: %w", err)
	}
	return nil
}

// Sync flushes appended records to stable storage.
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync output file: %w", err)
	}
	return nil
}

// Close syncs and closes the file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
