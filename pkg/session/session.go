// Package session is the public surface of the overlay: it owns an engine
// per (profile, application) scope, emits periodic heartbeat records while
// the host context is visible, and exposes derived state snapshots.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgelabs/forge-overlay/pkg/accrual"
	"github.com/forgelabs/forge-overlay/pkg/chain"
	"github.com/forgelabs/forge-overlay/pkg/digest"
	"github.com/forgelabs/forge-overlay/pkg/record"
	"github.com/forgelabs/forge-overlay/pkg/store"
)

// DefaultHeartbeatInterval is how often a heartbeat record is emitted while
// the host context is visible.
const DefaultHeartbeatInterval = 15 * time.Second

// Config configures Init.
type Config struct {
	// ProfileID and AppID scope the engine; each scope owns its own chain.
	ProfileID string
	AppID     string

	// DataDir is where the backing store lives. Ignored when Store is set.
	DataDir string

	// Store lets tests and embedders inject a prepared store.
	Store store.Store

	// EnableHeartbeat starts the periodic heartbeat loop.
	EnableHeartbeat   bool
	HeartbeatInterval time.Duration

	// Visibility reports whether the host context is foreground. Heartbeats
	// are suppressed while it returns false. Nil means always visible.
	// This is the presentation layer's only hook into the engine.
	Visibility func() bool

	Hasher   digest.Hasher
	Logger   *slog.Logger
	Observer chain.Observer
	Clock    func() time.Time
}

// State is an immutable snapshot of derived state. All fields are values;
// callers cannot reach engine internals through it.
type State struct {
	// ExperiencePoints and StreakCount are the authoritative values from
	// the last full replay (plus exact per-append application). Trust these
	// for correctness-sensitive reads.
	ExperiencePoints int    `json:"experiencePoints"`
	StreakCount      int    `json:"streakCount"`
	ChainHead        string `json:"chainHead"`
	EventCount       int    `json:"eventCount"`

	// ProvisionalXP is the fast optimistic counter bumped on Log for
	// interactive types and overwritten by every replay. Presentation only.
	ProvisionalXP int `json:"provisionalXp"`

	// StrongDigest is false when the chain runs on the degraded hash
	// fallback; such a chain is not tamper-evident.
	StrongDigest bool `json:"strongDigest"`

	// Backend names the store backend selected at Init.
	Backend string `json:"backend"`
}

// Engine is a live session handle.
type Engine struct {
	cfg   Config
	chain *chain.Engine
	store store.Store

	mu          sync.Mutex
	provisional float64
	lastReplay  chain.VerifyResult

	limiter  *rate.Limiter
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// Init selects a backend, loads the metadata snapshot, runs one full
// integrity replay, and (if enabled) starts the heartbeat loop. An empty
// store is valid: the engine starts at GENESIS with zeroed state.
func Init(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.ProfileID == "" {
		cfg.ProfileID = "default"
	}
	if cfg.AppID == "" {
		cfg.AppID = "forge"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("profile", cfg.ProfileID, "app", cfg.AppID)

	st := cfg.Store
	if st == nil {
		var err error
		st, err = store.Open(ctx, store.Config{
			Dir:       cfg.DataDir,
			AppID:     cfg.AppID,
			ProfileID: cfg.ProfileID,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("session: open store: %w", err)
		}
	}

	var chainOpts []chain.Option
	if cfg.Hasher != nil {
		chainOpts = append(chainOpts, chain.WithHasher(cfg.Hasher))
	}
	if cfg.Clock != nil {
		chainOpts = append(chainOpts, chain.WithClock(cfg.Clock))
	}
	if cfg.Observer != nil {
		chainOpts = append(chainOpts, chain.WithObserver(cfg.Observer))
	}
	chainOpts = append(chainOpts, chain.WithLogger(logger))

	eng, err := chain.Open(ctx, st, cfg.AppID, cfg.ProfileID, chainOpts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	replay, err := eng.RebuildFromZero(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if !replay.OK {
		logger.Error("integrity replay failed at init; chain left untouched",
			"index", replay.ErrorIndex, "reason", replay.Reason)
	}

	s := &Engine{
		cfg:        cfg,
		chain:      eng,
		store:      st,
		lastReplay: replay,
		limiter:    rate.NewLimiter(rate.Every(cfg.HeartbeatInterval), 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}

	if cfg.EnableHeartbeat {
		go s.heartbeatLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Log appends an ad-hoc semantic event and applies the optimistic bump for
// the common interactive types. The authoritative totals are reconciled by
// the next full replay.
func (s *Engine) Log(ctx context.Context, typ string, data map[string]any) (*record.Record, error) {
	rec, err := s.chain.AppendEvent(ctx, chain.Entry{Type: typ, Data: data})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	switch typ {
	case accrual.TypeClick:
		s.provisional++
	case accrual.TypeXP:
		t := accrual.Replay([]*record.Record{rec})
		s.provisional += t.RawXP
	}
	s.mu.Unlock()
	return rec, nil
}

// GetState returns a snapshot of current derived state.
func (s *Engine) GetState() State {
	totals := s.chain.Totals()
	s.mu.Lock()
	provisional := s.provisional
	s.mu.Unlock()

	return State{
		ExperiencePoints: totals.ExperiencePoints,
		StreakCount:      totals.StreakCount,
		ChainHead:        s.chain.Head(),
		EventCount:       s.chain.EventCount(),
		ProvisionalXP:    accrual.Round(provisional),
		StrongDigest:     s.chain.StrongDigest(),
		Backend:          string(s.store.Backend()),
	}
}

// Verify runs a read-only integrity audit of the full chain.
func (s *Engine) Verify(ctx context.Context) (chain.VerifyResult, error) {
	return s.chain.Verify(ctx)
}

// Rebuild replays the chain from zero, overwriting derived state and the
// provisional counter.
func (s *Engine) Rebuild(ctx context.Context) (chain.VerifyResult, error) {
	res, err := s.chain.RebuildFromZero(ctx)
	if err == nil && res.OK {
		s.mu.Lock()
		s.provisional = 0
		s.lastReplay = res
		s.mu.Unlock()
	}
	return res, err
}

// ExportLog returns a complete snapshot for transfer to another instance.
func (s *Engine) ExportLog(ctx context.Context) (*chain.Snapshot, error) {
	return s.chain.ExportLog(ctx)
}

// ImportLog merges a foreign snapshot; the full replay it triggers resets
// the provisional counter.
func (s *Engine) ImportLog(ctx context.Context, raw []byte) (chain.ImportResult, error) {
	res, err := s.chain.ImportLog(ctx, raw)
	if err == nil && res.MergedCount > 0 {
		s.mu.Lock()
		s.provisional = 0
		s.mu.Unlock()
	}
	return res, err
}

// LastReplay reports the outcome of the most recent full replay.
func (s *Engine) LastReplay() chain.VerifyResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReplay
}

func (s *Engine) visible() bool {
	if s.cfg.Visibility == nil {
		return true
	}
	return s.cfg.Visibility()
}

func (s *Engine) heartbeatLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.visible() {
				continue
			}
			if !s.limiter.Allow() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, err := s.Log(ctx, accrual.TypeHeartbeat, nil); err != nil {
				s.logger.Warn("heartbeat append failed", "error", err)
			}
			cancel()
		}
	}
}

// Close stops the heartbeat loop and releases the store. A pending append
// finishes before the store closes; appends are never cancelled mid-flight.
func (s *Engine) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.store.Close()
}
