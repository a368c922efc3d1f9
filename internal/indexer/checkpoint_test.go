package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := NewCheckpointStore(path, 8453)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(36000123))

	cp, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8453), cp.ChainID)
	assert.Equal(t, uint64(36000123), cp.LastProcessedBlock)
	assert.NotEmpty(t, cp.UpdatedAt)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointStoreDisabled(t *testing.T) {
	store := NewCheckpointStore("", 1)

	require.NoError(t, store.Save(10))
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpointStoreRejectsOtherChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, NewCheckpointStore(path, 1).Save(5))

	_, _, err := NewCheckpointStore(path, 8453).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to chain 1")
}
