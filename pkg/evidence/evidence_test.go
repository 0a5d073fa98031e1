package evidence

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge-overlay/pkg/chain"
	"github.com/forgelabs/forge-overlay/pkg/record"
)

func sampleSnapshot() *chain.Snapshot {
	return &chain.Snapshot{
		FormatVersion: chain.FormatVersion,
		Entries: []*record.Record{
			{
				ID:        "a",
				Type:      "xp",
				Data:      map[string]any{"amount": float64(5)},
				Timestamp: "2026-08-25T10:00:00Z",
				AppID:     "forge",
				ProfileID: "p1",
				PrevHash:  record.GenesisHash,
				Nonce:     "n1",
				Hash:      "h1",
			},
		},
		ChainHead: "h1",
		Summary:   chain.Summary{EventCount: 1, ExperiencePoints: 5, StreakCount: 1, StrongDigest: true},
	}
}

func TestBuildPackContents(t *testing.T) {
	generatedAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	pack, err := Build(sampleSnapshot(), generatedAt)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(pack.Archive), int64(len(pack.Archive)))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = buf.Bytes()
	}
	require.Len(t, files, 3)
	require.Contains(t, files, "entries.json")
	require.Contains(t, files, "manifest.json")
	require.Contains(t, files, "README.txt")

	var entries []*record.Record
	require.NoError(t, json.Unmarshal(files["entries.json"], &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "h1", entries[0].Hash)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	assert.Equal(t, chain.FormatVersion, manifest["formatVersion"])
	assert.Equal(t, "h1", manifest["chainHead"])
	assert.Equal(t, "2026-08-25T12:00:00Z", manifest["generatedAt"])

	assert.Contains(t, string(files["README.txt"]), "Chain head: h1")
}

func TestPackChecksum(t *testing.T) {
	pack, err := Build(sampleSnapshot(), time.Now())
	require.NoError(t, err)

	sum := sha256.Sum256(pack.Archive)
	assert.Equal(t, hex.EncodeToString(sum[:]), pack.Checksum)
}

func TestBuildNilSnapshot(t *testing.T) {
	_, err := Build(nil, time.Now())
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestWritePack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.zip")
	checksum, err := Write(path, sampleSnapshot(), time.Now())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	_, err = zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	assert.NoError(t, err, "written pack must be a readable archive")
}

func TestBuildDeterministicForSameInput(t *testing.T) {
	generatedAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	a, err := Build(sampleSnapshot(), generatedAt)
	require.NoError(t, err)
	b, err := Build(sampleSnapshot(), generatedAt)
	require.NoError(t, err)
	assert.Equal(t, a.Checksum, b.Checksum)
}
