package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"latencyprobe/internal/domain"
)

// File appends records as newline-delimited JSON to a single file. It is
// the durable sink of record; each flushed batch lands in one write call.
type File struct {
	path string
	f    *os.File
}

// NewFile opens (creating if needed) the NDJSON file in append mode.
func NewFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Append writes the whole batch as one write, one JSON object per line.
func (s *File) Append(records []domain.Record) error {
	var buf bytes.Buffer
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	if _, err := s.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append %d records to %s: %w", len(records), s.path, err)
	}
	return nil
}

func (s *File) Close() error {
	return s.f.Close()
}
