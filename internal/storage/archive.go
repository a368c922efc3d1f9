package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolScope/internal/model"
)

// Archive appends raw logs and decode failures to JSONL files. Either path may
// be empty to disable that stream.
type Archive struct {
	logPath   string
	errorPath string
	mu        sync.Mutex
}

var _ LogSink = (*Archive)(nil)

func NewArchive(logPath, errorPath string) *Archive {
	return &Archive{logPath: logPath, errorPath: errorPath}
}

// PutLogBatch appends a batch of log records as JSON lines.
func (a *Archive) PutLogBatch(logs []model.LogRecord) error {
	return appendLines(&a.mu, a.logPath, logs)
}

// PutDecodeErrors appends logs that could not be decoded.
func (a *Archive) PutDecodeErrors(errs []model.DecodeError) error {
	return appendLines(&a.mu, a.errorPath, errs)
}

func appendLines[T any](mu *sync.Mutex, path string, records []T) error {
	if path == "" || len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	enc := json.NewEncoder(writer)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
