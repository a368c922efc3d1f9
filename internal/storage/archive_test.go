package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"poolScope/internal/model"
)

func TestArchiveAppends(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "raw.jsonl")
	a := NewArchive(logPath, "")

	if err := a.PutLogBatch([]model.LogRecord{{BlockNumber: 1}, {BlockNumber: 2}}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := a.PutLogBatch([]model.LogRecord{{BlockNumber: 3}}); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	// Disabled stream is a no-op.
	if err := a.PutDecodeErrors([]model.DecodeError{{Error: "x"}}); err != nil {
		t.Fatalf("decode errors: %v", err)
	}

	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var blocks []uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec model.LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		blocks = append(blocks, rec.BlockNumber)
	}
	if len(blocks) != 3 || blocks[0] != 1 || blocks[2] != 3 {
		t.Fatalf("unexpected blocks %v", blocks)
	}
}
