package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

func TestStatStorage(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default(t.TempDir())
	cfg.Storage.Backend = "badger"

	s, closer, err := cfg.OpenStorage(nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Prepare(ctx, core.StorageParams{Key: "blobs"}))
	_, err = s.Put(ctx, 0, []byte("blob"))
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	files, usage, err := statStorage(ctx, cfg, "blobs")
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, int64(4), usage)

	t.Run("Closes On Failure", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := statStorage(canceled, cfg, "blobs")
		require.Error(t, err)

		// A database left open would still hold the directory lock.
		_, closer, err := cfg.OpenStorage(nil, nil)
		require.NoError(t, err)
		require.NoError(t, closer.Close())
	})
}
