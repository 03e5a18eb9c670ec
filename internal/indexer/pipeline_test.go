package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

const (
	swapTopic    = "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"
	transferTopc = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
)

type stubDecoder struct{}

func (stubDecoder) CanDecode(topic0 string) bool { return strings.EqualFold(topic0, swapTopic) }

func (stubDecoder) Decode(_ context.Context, rec model.LogRecord) (model.PoolEvent, error) {
	if rec.Data == "0x" {
		return model.PoolEvent{}, errors.New("empty data")
	}
	return poolEvent(rec.Address, tokenA, tokenB, rec.BlockNumber, rec.LogIndex), nil
}

type collectingHandler struct {
	batches [][]model.PoolEvent
}

func (h *collectingHandler) HandleEvents(_ context.Context, events []model.PoolEvent) error {
	h.batches = append(h.batches, events)
	return nil
}

func logRecord(topic0, data string, logIndex uint64) model.LogRecord {
	return model.LogRecord{
		ChainID:     56,
		BlockNumber: 7,
		TxHash:      "0xabc",
		LogIndex:    logIndex,
		Address:     pool1,
		Topics:      []string{topic0},
		Data:        data,
	}
}

func TestPipelineDecodesAndForwards(t *testing.T) {
	errPath := filepath.Join(t.TempDir(), "errors.jsonl")
	next := &collectingHandler{}
	p := NewPipeline(stubDecoder{}, next, PipelineConfig{Errors: storage.NewJSONLFile[model.DecodeError](errPath)})

	records := []model.LogRecord{
		logRecord(swapTopic, "0x01", 0),
		logRecord(transferTopc, "0x01", 1),
		logRecord(swapTopic, "0x", 2),
		logRecord(swapTopic, "0x02", 3),
	}
	records[3].Removed = true

	events, stats, err := p.Decode(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, DecodeStats{Total: 4, Decoded: 1, Skipped: 2, Failed: 1}, stats)
	require.Len(t, events, 1)

	f, err := os.Open(errPath)
	require.NoError(t, err)
	defer f.Close()
	var failures []model.DecodeError
	require.NoError(t, storage.ScanJSONL(context.Background(), f, func(rec model.DecodeError, err error) error {
		require.NoError(t, err)
		failures = append(failures, rec)
		return nil
	}))
	require.Len(t, failures, 1)
	require.Equal(t, uint64(2), failures[0].LogIndex)
	require.Equal(t, swapTopic, failures[0].Topic0)
	require.Equal(t, "empty data", failures[0].Error)

	require.NoError(t, p.Handle(context.Background(), records))
	require.Len(t, next.batches, 1)
	require.Equal(t, uint64(0), next.batches[0][0].LogIndex)
	require.Equal(t, DecodeStats{Total: 8, Decoded: 2, Skipped: 4, Failed: 2}, p.Totals())
}

func TestPipelineSkipsEmptyBatches(t *testing.T) {
	next := &collectingHandler{}
	p := NewPipeline(stubDecoder{}, next, PipelineConfig{})

	require.NoError(t, p.Handle(context.Background(), []model.LogRecord{logRecord(transferTopc, "0x", 0)}))
	require.Empty(t, next.batches)
}

func TestFileSinksAppend(t *testing.T) {
	dir := t.TempDir()
	logs := storage.NewJSONLFile[model.LogRecord](filepath.Join(dir, "logs", "raw.jsonl"))
	events := storage.NewJSONLFile[model.PoolEvent](filepath.Join(dir, "events.jsonl"))

	require.NoError(t, LogFile{File: logs}.Handle(context.Background(), []model.LogRecord{logRecord(swapTopic, "0x01", 0)}))
	require.NoError(t, LogFile{File: logs}.Handle(context.Background(), []model.LogRecord{logRecord(swapTopic, "0x01", 1)}))
	require.NoError(t, EventFile{File: events}.HandleEvents(context.Background(), []model.PoolEvent{poolEvent(pool1, tokenA, tokenB, 1, 0)}))

	data, err := os.ReadFile(logs.Path())
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(data), "\n"))

	src := FileSource{Path: events.Path()}
	got := &collectingHandler{}
	require.NoError(t, src.Run(context.Background(), got))
	require.Len(t, got.batches, 1)
	require.Equal(t, model.EventSwap, got.batches[0][0].Kind)
}
