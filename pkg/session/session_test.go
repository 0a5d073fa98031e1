package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge-overlay/pkg/accrual"
	"github.com/forgelabs/forge-overlay/pkg/record"
	"github.com/forgelabs/forge-overlay/pkg/store"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) AdvanceDays(n int) {
	c.now = c.now.AddDate(0, 0, n)
}

func newTestSession(t *testing.T, mutate func(*Config)) (*Engine, *testClock) {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)

	clock := newTestClock()
	cfg := Config{
		ProfileID: "p1",
		AppID:     "forge",
		Store:     st,
		Clock:     clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestInitEmptyState(t *testing.T) {
	s, _ := newTestSession(t, nil)

	state := s.GetState()
	assert.Equal(t, record.GenesisHash, state.ChainHead)
	assert.Zero(t, state.EventCount)
	assert.Zero(t, state.ExperiencePoints)
	assert.Zero(t, state.StreakCount)
	assert.Zero(t, state.ProvisionalXP)
	assert.True(t, state.StrongDigest)
	assert.Equal(t, string(store.BackendFile), state.Backend)

	replay := s.LastReplay()
	assert.True(t, replay.OK)
}

func TestLogAccruesXP(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, nil)

	_, err := s.Log(ctx, accrual.TypeXP, map[string]any{"amount": float64(5)})
	require.NoError(t, err)
	_, err = s.Log(ctx, accrual.TypeXP, map[string]any{"amount": float64(3)})
	require.NoError(t, err)
	_, err = s.Log(ctx, accrual.TypeHeartbeat, nil)
	require.NoError(t, err)

	state := s.GetState()
	assert.Equal(t, 8, state.ExperiencePoints)
	assert.Equal(t, 3, state.EventCount)
	assert.Equal(t, 1, state.StreakCount)
	assert.NotEqual(t, record.GenesisHash, state.ChainHead)
}

func TestStreakAcrossDays(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestSession(t, nil)

	_, err := s.Log(ctx, accrual.TypeClick, nil)
	require.NoError(t, err)
	clock.AdvanceDays(1)
	_, err = s.Log(ctx, accrual.TypeClick, nil)
	require.NoError(t, err)
	clock.AdvanceDays(1)
	_, err = s.Log(ctx, accrual.TypeClick, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, s.GetState().StreakCount)
}

func TestProvisionalCounter(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, nil)

	_, err := s.Log(ctx, accrual.TypeClick, nil)
	require.NoError(t, err)
	_, err = s.Log(ctx, accrual.TypeXP, map[string]any{"amount": float64(4)})
	require.NoError(t, err)
	assert.Equal(t, 5, s.GetState().ProvisionalXP)

	// A full replay overwrites the optimistic tier.
	res, err := s.Rebuild(ctx)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Zero(t, s.GetState().ProvisionalXP)
}

func TestVerifyPassesAfterAppends(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t, nil)

	for i := 0; i < 5; i++ {
		_, err := s.Log(ctx, accrual.TypeClick, nil)
		require.NoError(t, err)
	}
	res, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, -1, res.ErrorIndex)
}

func TestExportImportBetweenSessions(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSession(t, nil)

	_, err := src.Log(ctx, accrual.TypeXP, map[string]any{"amount": float64(7)})
	require.NoError(t, err)
	snap, err := src.ExportLog(ctx)
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	dst, _ := newTestSession(t, nil)
	res, err := dst.ImportLog(ctx, raw)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.MergedCount)

	state := dst.GetState()
	assert.Equal(t, 7, state.ExperiencePoints)
	assert.Equal(t, src.GetState().ChainHead, state.ChainHead)
	assert.Zero(t, state.ProvisionalXP, "import resets the optimistic tier")
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overlay.json")

	st, err := store.OpenFile(path)
	require.NoError(t, err)
	clock := newTestClock()
	s, err := Init(ctx, Config{ProfileID: "p1", AppID: "forge", Store: st, Clock: clock.Now})
	require.NoError(t, err)
	_, err = s.Log(ctx, accrual.TypeXP, map[string]any{"amount": float64(6)})
	require.NoError(t, err)
	head := s.GetState().ChainHead
	require.NoError(t, s.Close())

	st2, err := store.OpenFile(path)
	require.NoError(t, err)
	s2, err := Init(ctx, Config{ProfileID: "p1", AppID: "forge", Store: st2, Clock: clock.Now})
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	state := s2.GetState()
	assert.Equal(t, head, state.ChainHead)
	assert.Equal(t, 6, state.ExperiencePoints)
	assert.Equal(t, 1, state.EventCount)
	assert.Zero(t, state.ProvisionalXP, "optimistic tier never survives restart")
}

func TestHeartbeatLoopEmitsWhileVisible(t *testing.T) {
	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.EnableHeartbeat = true
		cfg.HeartbeatInterval = 10 * time.Millisecond
		cfg.Clock = nil // heartbeats carry wall-clock timestamps here
	})

	require.Eventually(t, func() bool {
		return s.GetState().EventCount >= 2
	}, 3*time.Second, 10*time.Millisecond, "heartbeat loop should append records")

	res, err := s.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestHeartbeatSuppressedWhenHidden(t *testing.T) {
	var visible atomic.Bool

	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.EnableHeartbeat = true
		cfg.HeartbeatInterval = 10 * time.Millisecond
		cfg.Clock = nil
		cfg.Visibility = visible.Load
	})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, s.GetState().EventCount, "hidden sessions emit nothing")

	visible.Store(true)
	require.Eventually(t, func() bool {
		return s.GetState().EventCount >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCloseStopsHeartbeatLoop(t *testing.T) {
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)
	s, err := Init(context.Background(), Config{
		ProfileID:         "p1",
		AppID:             "forge",
		Store:             st,
		EnableHeartbeat:   true,
		HeartbeatInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	count := s.GetState().EventCount
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, s.GetState().EventCount, "no appends after Close")
}

func TestScopeDefaults(t *testing.T) {
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	require.NoError(t, err)
	s, err := Init(context.Background(), Config{Store: st})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rec, err := s.Log(context.Background(), accrual.TypeClick, nil)
	require.NoError(t, err)
	assert.Equal(t, "forge", rec.AppID)
	assert.Equal(t, "default", rec.ProfileID)
}
