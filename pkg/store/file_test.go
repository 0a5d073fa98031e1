package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

func testRecord(id, typ, prev, hash string) *record.Record {
	return &record.Record{
		ID:        id,
		Type:      typ,
		Data:      map[string]any{"n": float64(1)},
		Timestamp: "2026-08-25T10:00:00Z",
		AppID:     "forge",
		ProfileID: "p1",
		PrevHash:  prev,
		Nonce:     "nonce-" + id,
		Hash:      hash,
	}
}

func TestFileStoreAppendOrder(t *testing.T) {
	ctx := context.Background()
	f, err := OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)

	_, err = f.Append(ctx, testRecord("a", "click", record.GenesisHash, "h1"))
	require.NoError(t, err)
	_, err = f.Append(ctx, testRecord("b", "xp", "h1", "h2"))
	require.NoError(t, err)

	records, err := f.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overlay.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	_, err = f.Append(ctx, testRecord("a", "click", record.GenesisHash, "h1"))
	require.NoError(t, err)
	require.NoError(t, f.PutMeta(ctx, Meta{ChainHead: "h1", EventCount: 1}))
	require.NoError(t, f.Close())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	records, err := reopened.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "h1", records[0].Hash)

	meta, ok, err := reopened.GetMeta(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", meta.ChainHead)
	assert.Equal(t, 1, meta.EventCount)
	assert.NotEmpty(t, meta.UpdatedAt)
}

func TestFileStoreEmptyMeta(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)
	_, ok, err := f.GetMeta(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreClosed(t *testing.T) {
	ctx := context.Background()
	f, err := OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Append(ctx, testRecord("a", "click", record.GenesisHash, "h1"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.GetAll(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStoreBackend(t *testing.T) {
	f, err := OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)
	assert.Equal(t, BackendFile, f.Backend())
}
