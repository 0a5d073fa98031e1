package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

// FileStore is the flat fallback backend: the full record array plus the
// metadata slot persisted as a single JSON blob. Every mutation rewrites the
// file before returning, matching the durability contract of Append.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	state  fileState
	closed bool
}

type fileState struct {
	Records []*record.Record `json:"records"`
	Meta    *Meta            `json:"meta,omitempty"`
}

// OpenFile opens (or starts) the blob at path.
func OpenFile(path string) (*FileStore, error) {
	f := &FileStore{path: path}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // start empty
		}
		return fmt.Errorf("store: read blob: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &f.state); err != nil {
		return fmt.Errorf("store: decode blob: %w", err)
	}
	return nil
}

// save must be called with the write lock held.
func (f *FileStore) save() error {
	raw, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode blob: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("store: write blob: %w", err)
	}
	return nil
}

func (f *FileStore) Append(ctx context.Context, rec *record.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}

	f.state.Records = append(f.state.Records, rec)
	if err := f.save(); err != nil {
		// Roll the in-memory list back so a failed append changes nothing.
		f.state.Records = f.state.Records[:len(f.state.Records)-1]
		return "", err
	}
	return rec.ID, nil
}

func (f *FileStore) GetAll(ctx context.Context) ([]*record.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	out := make([]*record.Record, len(f.state.Records))
	copy(out, f.state.Records)
	return out, nil
}

func (f *FileStore) GetMeta(ctx context.Context) (Meta, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return Meta{}, false, ErrClosed
	}
	if f.state.Meta == nil {
		return Meta{}, false, nil
	}
	return *f.state.Meta, true, nil
}

func (f *FileStore) PutMeta(ctx context.Context, meta Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	prev := f.state.Meta
	f.state.Meta = &meta
	if err := f.save(); err != nil {
		f.state.Meta = prev
		return err
	}
	return nil
}

func (f *FileStore) Backend() Backend { return BackendFile }

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
