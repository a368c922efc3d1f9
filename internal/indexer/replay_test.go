package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/dex"
	"poolScope/internal/engine"
	"poolScope/internal/model"
	"poolScope/internal/storage/memory"
)

type fixedOracle struct{ price *big.Int }

func (o fixedOracle) PriceAt(context.Context, uint64, int64) (*big.Int, bool) {
	return o.price, true
}

func archiveLines(t *testing.T, logs ...types.Log) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		ts := 1_700_000_000 + log.BlockNumber*12
		require.NoError(t, enc.Encode(newLogRecord(8453, log, ts, time.Time{})))
	}
	return buf.Bytes()
}

func testDecoder(t *testing.T) dex.Decoder {
	t.Helper()
	decoder, err := dex.NewEventDecoder(dex.DecoderConfig{})
	require.NoError(t, err)
	return decoder
}

func TestReplayTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	eng, err := engine.New(engine.Deps{Store: store, Oracle: fixedOracle{price: big.NewInt(3000_00000000)}})
	require.NoError(t, err)

	input := archiveLines(t, createLog(t, 5, 0), swapLog(t, 6, 1))
	pool := strings.ToLower(testPool.Hex())

	stats, err := Replay(ctx, bytes.NewReader(input), testDecoder(t), eng, nil)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 2, Dispatched: 2}, stats)

	first, err := store.GetPool(ctx, 8453, pool)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.SwapCount)
	require.Positive(t, first.VolumeUSD.Sign())
	firstWindow, err := store.GetDailyVolume(ctx, 8453, pool)
	require.NoError(t, err)

	stats, err = Replay(ctx, bytes.NewReader(input), testDecoder(t), eng, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Lines)

	second, err := store.GetPool(ctx, 8453, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.SwapCount)
	assert.Equal(t, 0, second.VolumeUSD.Cmp(first.VolumeUSD))
	assert.Equal(t, 0, second.Price.Cmp(first.Price))
	assert.Equal(t, first.LastSwapTimestamp, second.LastSwapTimestamp)

	secondWindow, err := store.GetDailyVolume(ctx, 8453, pool)
	require.NoError(t, err)
	assert.Len(t, secondWindow.Checkpoints, len(firstWindow.Checkpoints))
	assert.Equal(t, 0, secondWindow.VolumeUSD.Cmp(firstWindow.VolumeUSD))
}

func TestReplaySkipsBlankLinesAndStopsOnMalformed(t *testing.T) {
	processor := &recordingProcessor{}
	input := append(archiveLines(t, createLog(t, 5, 0)), []byte("\n{not json\n")...)

	stats, err := Replay(context.Background(), bytes.NewReader(input), testDecoder(t), processor, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse line 2")
	assert.Equal(t, 1, stats.Dispatched)
	assert.Len(t, processor.events, 1)
}

func TestReplayCountsDecodeErrors(t *testing.T) {
	processor := &recordingProcessor{}
	bad := model.LogRecord{
		ChainID:     8453,
		BlockNumber: 7,
		TxHash:      "0x01",
		Address:     strings.ToLower(testPool.Hex()),
		Topics:      []string{"0x0000000000000000000000000000000000000000000000000000000000000001"},
		Data:        "0x",
	}
	line, err := json.Marshal(bad)
	require.NoError(t, err)
	input := append(archiveLines(t, createLog(t, 5, 0)), append(line, '\n')...)

	stats, err := Replay(context.Background(), bytes.NewReader(input), testDecoder(t), processor, nil)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 2, Dispatched: 1, DecodeErrors: 1}, stats)
	assert.Len(t, processor.events, 1)
}
