package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// maxJSONLLine bounds a single JSONL record.
const maxJSONLLine = 10 * 1024 * 1024

// JSONLFile appends records of one type to a JSONL file.
type JSONLFile[T any] struct {
	path string
	mu   sync.Mutex
}

func NewJSONLFile[T any](path string) *JSONLFile[T] {
	return &JSONLFile[T]{path: path}
}

// Path returns the file location.
func (f *JSONLFile[T]) Path() string { return f.path }

// Truncate empties the file, creating it when missing.
func (f *JSONLFile[T]) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ensureDir(f.path); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	return file.Close()
}

// Append writes records as JSON lines at the end of the file.
func (f *JSONLFile[T]) Append(records []T) error {
	if len(records) == 0 {
		return nil
	}
	if err := ensureDir(f.path); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ScanJSONL decodes one T per non-empty line and hands it to fn. A line that does not parse is
// passed to fn with a non-nil err; fn decides whether that stops the scan.
func ScanJSONL[T any](ctx context.Context, r io.Reader, fn func(record T, err error) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var record T
		var parseErr error
		if err := json.Unmarshal(line, &record); err != nil {
			parseErr = fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(record, parseErr); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}
