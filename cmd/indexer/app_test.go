package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/config"
	"poolScope/internal/engine"
	"poolScope/internal/model"
	"poolScope/internal/storage/memory"
)

func TestPerChainPath(t *testing.T) {
	assert.Equal(t, "./data/checkpoint.json", perChainPath("./data/checkpoint.json", 8453, 1))
	assert.Equal(t, "./data/checkpoint-8453.json", perChainPath("./data/checkpoint.json", 8453, 2))
	assert.Equal(t, "logs-1", perChainPath("logs", 1, 3))
	assert.Equal(t, "", perChainPath("", 1, 3))
}

func TestOpenMemoryStore(t *testing.T) {
	store, err := openStore(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetPool(context.Background(), 1, "0x2222222222222222222222222222222222222222")
	assert.Error(t, err)
}

func TestChainRouterRejectsUnknownChain(t *testing.T) {
	eng, err := engine.New(engine.Deps{Store: memory.NewStore()})
	require.NoError(t, err)
	router := chainRouter{1: eng}

	err = router.Process(context.Background(), model.Event{ChainID: 2, Kind: model.EventSwap})
	assert.ErrorContains(t, err, "no engine for chain 2")
}
