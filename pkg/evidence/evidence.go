// Package evidence builds portable archive packs from chain snapshots: a
// zip holding the entries, a manifest, and a README, plus a checksum of the
// archive itself so the pack can be verified after transfer.
package evidence

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/forgelabs/forge-overlay/pkg/chain"
)

// ErrNilSnapshot is returned when no snapshot is supplied.
var ErrNilSnapshot = errors.New("evidence: nil snapshot")

// Pack is an exported archive plus its checksum.
type Pack struct {
	Archive  []byte
	Checksum string // SHA-256 hex of Archive
}

// Build creates a zip pack from a snapshot.
func Build(snap *chain.Snapshot, generatedAt time.Time) (*Pack, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	entriesJSON, err := json.MarshalIndent(snap.Entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal entries: %w", err)
	}

	manifest := map[string]any{
		"formatVersion": snap.FormatVersion,
		"generatedAt":   generatedAt.UTC().Format(time.RFC3339),
		"chainHead":     snap.ChainHead,
		"eventCount":    snap.Summary.EventCount,
		"summary":       snap.Summary,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(f, "Forge Overlay chain pack\nChain head: %s\nEvents: %d\nGenerated at %s\n",
		snap.ChainHead, snap.Summary.EventCount, generatedAt.UTC().Format(time.RFC3339))

	if err := w.Close(); err != nil {
		return nil, err
	}

	archive := buf.Bytes()
	sum := sha256.Sum256(archive)
	return &Pack{Archive: archive, Checksum: hex.EncodeToString(sum[:])}, nil
}

// Write builds a pack and writes it to path, returning the checksum.
func Write(path string, snap *chain.Snapshot, generatedAt time.Time) (string, error) {
	pack, err := Build(snap, generatedAt)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, pack.Archive, 0o600); err != nil {
		return "", fmt.Errorf("evidence: write pack: %w", err)
	}
	return pack.Checksum, nil
}
