package chain

import (
	"context"
	"fmt"

	"github.com/forgelabs/forge-overlay/pkg/accrual"
	"github.com/forgelabs/forge-overlay/pkg/record"
)

// VerifyResult reports an integrity walk. An empty chain is valid and is
// distinguishable from a verification failure: OK is true and ErrorIndex -1.
type VerifyResult struct {
	OK         bool   `json:"ok"`
	ErrorIndex int    `json:"errorIndex"` // -1 when OK
	Reason     string `json:"reason,omitempty"`
}

// walk replays records from GENESIS, recomputing each digest. It returns
// the verification outcome and, on success, the derived totals and head.
func (e *Engine) walk(records []*record.Record) (VerifyResult, accrual.Totals, string) {
	prev := record.GenesisHash
	acc := accrual.NewAccumulator()

	for i, r := range records {
		if r.PrevHash != prev {
			return VerifyResult{
				OK:         false,
				ErrorIndex: i,
				Reason:     fmt.Sprintf("prev_hash mismatch at %d: expected %s, got %s", i, prev, r.PrevHash),
			}, accrual.Totals{}, ""
		}
		payload, err := r.CanonicalPayload()
		if err != nil {
			return VerifyResult{
				OK:         false,
				ErrorIndex: i,
				Reason:     fmt.Sprintf("payload not hashable at %d: %v", i, err),
			}, accrual.Totals{}, ""
		}
		computed := e.hasher.Sum(record.HashInput(prev, payload, r.Nonce))
		if computed != r.Hash {
			return VerifyResult{
				OK:         false,
				ErrorIndex: i,
				Reason:     fmt.Sprintf("hash mismatch at %d", i),
			}, accrual.Totals{}, ""
		}
		acc.Apply(r)
		prev = r.Hash
	}
	return VerifyResult{OK: true, ErrorIndex: -1}, acc.Totals(), prev
}

// RebuildFromZero replays the full chain from storage. On the first broken
// record it stops and reports the failing index without repairing or
// deleting anything; corruption is reported, not healed. On success the
// derived state and head are recomputed and the metadata snapshot persisted.
func (e *Engine) RebuildFromZero(ctx context.Context) (VerifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.store.GetAll(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("chain: rebuild: %w", err)
	}

	res, totals, head := e.walk(records)
	if e.obs != nil {
		e.obs.RecordVerification(ctx, res.OK)
	}
	if !res.OK {
		e.logger.Error("chain rebuild found corruption", "index", res.ErrorIndex, "reason", res.Reason)
		return res, nil
	}

	if head == "" {
		head = record.GenesisHash
	}
	e.head = head
	e.count = len(records)
	e.totals = totals
	if err := e.putMeta(ctx); err != nil {
		return res, fmt.Errorf("chain: persist meta after rebuild: %w", err)
	}
	e.logger.Info("chain rebuilt", "events", e.count, "head", e.head,
		"xp", e.totals.ExperiencePoints, "streak", e.totals.StreakCount)
	return res, nil
}

// Verify performs the same integrity walk as RebuildFromZero but mutates
// nothing: a pure read-only audit.
func (e *Engine) Verify(ctx context.Context) (VerifyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.store.GetAll(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("chain: verify: %w", err)
	}
	res, _, _ := e.walk(records)
	if e.obs != nil {
		e.obs.RecordVerification(ctx, res.OK)
	}
	return res, nil
}
