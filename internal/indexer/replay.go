package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"poolScope/internal/dex"
	"poolScope/internal/model"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Lines        int
	Dispatched   int
	DecodeErrors int
}

// Replay re-dispatches archived raw logs in file order. Already applied
// events are recognized by the processor and skipped.
func Replay(ctx context.Context, in io.Reader, decoder dex.Decoder, processor Processor, logger *zap.Logger) (ReplayStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats ReplayStats

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return stats, fmt.Errorf("parse line %d: %w", stats.Lines, err)
		}

		ev, err := decoder.Decode(record)
		if err != nil {
			stats.DecodeErrors++
			logger.Warn("decode failed", zap.Int("line", stats.Lines), zap.String("tx", record.TxHash), zap.Error(err))
			continue
		}
		if err := processor.Process(ctx, ev); err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		stats.Dispatched++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read input: %w", err)
	}
	return stats, nil
}
