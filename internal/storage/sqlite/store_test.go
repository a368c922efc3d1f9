package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poolScope/internal/storage"
	"poolScope/internal/storage/storagetest"
)

func TestStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}

func TestOpenFileReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scope.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor(ctx, "base", 7))
	s.Close()

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	block, ok, err := s.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), block)
}
