// Package store implements durable persistence for overlay records: an
// ordered append-only record list plus a single metadata slot, scoped to one
// (application, profile) pair.
//
// Two backends exist. The indexed sqlite backend is preferred; a flat JSON
// file holding the full record array is the fallback when sqlite cannot be
// opened. The backend is picked once per Open and never migrated at runtime.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

// Namespace is the fixed identifier under which all overlay data is keyed.
const Namespace = "forge_overlay"

var (
	// ErrUnavailable is returned when no backend can be opened. Operations
	// requiring durability fail explicitly rather than discarding data.
	ErrUnavailable = errors.New("store: no backend available")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Backend identifies which persistence backend was selected at Open.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// Meta is the persisted snapshot of the chain head and derived state. It is
// a cache only: replay from the record list is always authoritative.
type Meta struct {
	ChainHead        string  `json:"chainHead"`
	EventCount       int     `json:"eventCount"`
	ExperiencePoints int     `json:"experiencePoints"`
	RawXP            float64 `json:"rawXp"`
	StreakCount      int     `json:"streakCount"`
	LastDay          string  `json:"lastDay,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
}

// Store is the persistence contract the chain engine writes through. The
// engine owns the store exclusively within a scope; no other component
// writes to it directly.
type Store interface {
	// Append durably persists the record before returning its storage ID.
	Append(ctx context.Context, rec *record.Record) (string, error)

	// GetAll returns all records in insertion order.
	GetAll(ctx context.Context) ([]*record.Record, error)

	// GetMeta returns the metadata slot; ok is false when the slot is empty.
	GetMeta(ctx context.Context) (meta Meta, ok bool, err error)

	// PutMeta overwrites the metadata slot.
	PutMeta(ctx context.Context, meta Meta) error

	// Backend reports which backend this store runs on.
	Backend() Backend

	Close() error
}

// Config locates a scoped store on disk.
type Config struct {
	Dir       string
	AppID     string
	ProfileID string
	Logger    *slog.Logger
}

// Open selects a backend: sqlite if it can be opened, otherwise the flat
// file fallback. If neither is available it fails with ErrUnavailable.
func Open(ctx context.Context, cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, Namespace+".db")
	s, err := OpenSQLite(ctx, dbPath, cfg.AppID, cfg.ProfileID)
	if err == nil {
		logger.Info("store opened", "backend", BackendSQLite, "path", dbPath)
		return s, nil
	}
	logger.Warn("sqlite backend unavailable, falling back to flat file", "error", err)

	filePath := filepath.Join(cfg.Dir, fmt.Sprintf("%s_%s_%s.json", Namespace, cfg.AppID, cfg.ProfileID))
	f, ferr := OpenFile(filePath)
	if ferr != nil {
		return nil, fmt.Errorf("%w: sqlite: %v; file: %v", ErrUnavailable, err, ferr)
	}
	logger.Info("store opened", "backend", BackendFile, "path", filePath)
	return f, nil
}
