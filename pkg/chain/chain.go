// Package chain implements the overlay chain engine: appending hash-linked
// records, replaying them to derive state, verifying integrity, and merging
// imported chain segments.
//
// All chain-mutating operations serialize on one mutex per engine, because
// each reads the chain head and writes a new head derived from it.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelabs/forge-overlay/pkg/accrual"
	"github.com/forgelabs/forge-overlay/pkg/digest"
	"github.com/forgelabs/forge-overlay/pkg/record"
	"github.com/forgelabs/forge-overlay/pkg/store"
)

// Entry is the caller-supplied part of a record.
type Entry struct {
	Type string
	Data map[string]any
}

// Observer receives operation counts. Implemented by the observability
// provider; a nil observer is a no-op.
type Observer interface {
	RecordAppend(ctx context.Context)
	RecordVerification(ctx context.Context, ok bool)
	RecordImport(ctx context.Context, merged, skipped int)
}

// Engine owns one chain scoped to an (application, profile) pair. The
// backing store is exclusively the engine's; nothing else writes to it.
type Engine struct {
	mu     sync.Mutex
	store  store.Store
	hasher digest.Hasher
	logger *slog.Logger
	clock  func() time.Time
	obs    Observer

	appID     string
	profileID string

	head   string
	count  int
	totals accrual.Totals
}

// Option configures an Engine.
type Option func(*Engine)

// WithHasher overrides the digest primitive. The rolling fallback hasher
// yields chains with no tamper-evidence; see digest.Hasher.Strong.
func WithHasher(h digest.Hasher) Option { return func(e *Engine) { e.hasher = h } }

// WithClock overrides the timestamp source for testing.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithObserver attaches an operation observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

// Open constructs an engine over st, warm-starting the head and derived
// state from the metadata slot when present. The metadata is a cache:
// callers that need verified state run RebuildFromZero afterwards.
func Open(ctx context.Context, st store.Store, appID, profileID string, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     st,
		hasher:    digest.Default(),
		logger:    slog.Default(),
		clock:     time.Now,
		appID:     appID,
		profileID: profileID,
		head:      record.GenesisHash,
	}
	for _, opt := range opts {
		opt(e)
	}

	meta, ok, err := st.GetMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: load meta: %w", err)
	}
	if ok {
		e.head = meta.ChainHead
		e.count = meta.EventCount
		e.totals = accrual.Totals{
			ExperiencePoints: meta.ExperiencePoints,
			RawXP:            meta.RawXP,
			StreakCount:      meta.StreakCount,
			LastDay:          meta.LastDay,
		}
	}
	return e, nil
}

// Head returns the current chain head hash, or GENESIS when empty.
func (e *Engine) Head() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head
}

// EventCount returns the number of records in the chain.
func (e *Engine) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Totals returns the derived state as of the last replay or append.
func (e *Engine) Totals() accrual.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

// StrongDigest reports whether the chain is hashed with a cryptographic
// primitive. Weak-mode chains must not be treated as tamper-evident.
func (e *Engine) StrongDigest() bool {
	return e.hasher.Strong()
}

// AppendEvent builds a record linked to the current head, persists it, and
// advances the head. Atomic: either the record is durable and the head
// advances, or nothing changes.
func (e *Engine) AppendEvent(ctx context.Context, entry Entry) (*record.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := &record.Record{
		ID:        record.NewID(),
		Type:      entry.Type,
		Data:      entry.Data,
		Timestamp: record.NewTimestamp(e.clock()),
		AppID:     e.appID,
		ProfileID: e.profileID,
		PrevHash:  e.head,
		Nonce:     record.NewNonce(),
	}
	payload, err := rec.CanonicalPayload()
	if err != nil {
		return nil, err
	}
	rec.Hash = e.hasher.Sum(record.HashInput(e.head, payload, rec.Nonce))

	if _, err := e.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("chain: append: %w", err)
	}

	e.head = rec.Hash
	e.count++
	acc := accrual.Resume(e.totals)
	acc.Apply(rec)
	e.totals = acc.Totals()

	if err := e.putMeta(ctx); err != nil {
		// The record is durable; only the cache write failed.
		e.logger.Warn("meta snapshot write failed after append", "error", err)
	}
	if e.obs != nil {
		e.obs.RecordAppend(ctx)
	}
	e.logger.Debug("record appended", "type", rec.Type, "head", rec.Hash, "count", e.count)
	return rec, nil
}

// putMeta persists the cache snapshot. Callers hold e.mu.
func (e *Engine) putMeta(ctx context.Context) error {
	return e.store.PutMeta(ctx, store.Meta{
		ChainHead:        e.head,
		EventCount:       e.count,
		ExperiencePoints: e.totals.ExperiencePoints,
		RawXP:            e.totals.RawXP,
		StreakCount:      e.totals.StreakCount,
		LastDay:          e.totals.LastDay,
	})
}
