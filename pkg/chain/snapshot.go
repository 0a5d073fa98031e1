package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

// FormatVersion is the semver of the snapshot wire format. Imports reject
// snapshots from an incompatible major version.
const FormatVersion = "1.0.0"

// Snapshot is a complete, self-verifiable export of a chain, suitable for
// transfer to another instance.
type Snapshot struct {
	FormatVersion string           `json:"formatVersion"`
	Entries       []*record.Record `json:"entries"`
	ChainHead     string           `json:"chainHead"`
	Summary       Summary          `json:"summary"`
}

// Summary is the derived state carried alongside an export.
type Summary struct {
	EventCount       int  `json:"eventCount"`
	ExperiencePoints int  `json:"experiencePoints"`
	StreakCount      int  `json:"streakCount"`
	StrongDigest     bool `json:"strongDigest"`
}

// ImportResult reports a merge. Divergent records are skipped rather than
// stored, but their count and identifiers are surfaced so callers can decide
// whether a fork is worth investigating.
type ImportResult struct {
	OK           bool     `json:"ok"`
	MergedCount  int      `json:"mergedCount"`
	SkippedCount int      `json:"skippedCount"`
	SkippedIDs   []string `json:"skippedIds,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// snapshotSchema validates the shape of a foreign snapshot before any state
// is touched. Draft 2020-12.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["entries"],
  "properties": {
    "formatVersion": {"type": "string"},
    "chainHead": {"type": "string"},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "timestamp", "prevHash", "nonce", "hash"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"},
          "data": {"type": ["object", "null"]},
          "timestamp": {"type": "string"},
          "appId": {"type": "string"},
          "profileId": {"type": "string"},
          "prevHash": {"type": "string"},
          "nonce": {"type": "string"},
          "hash": {"type": "string"}
        }
      }
    },
    "summary": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func importSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("snapshot.json", strings.NewReader(snapshotSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("snapshot.json")
	})
	return compiledSchema, schemaErr
}

// ExportLog returns the full ordered record sequence, the current head, and
// a summary of the derived state.
func (e *Engine) ExportLog(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: export: %w", err)
	}
	return &Snapshot{
		FormatVersion: FormatVersion,
		Entries:       records,
		ChainHead:     e.head,
		Summary: Summary{
			EventCount:       e.count,
			ExperiencePoints: e.totals.ExperiencePoints,
			StreakCount:      e.totals.StreakCount,
			StrongDigest:     e.hasher.Strong(),
		},
	}, nil
}

// ImportLog merges a foreign snapshot (raw JSON). Malformed payloads are a
// no-op failure: ok=false, nothing merged, local state untouched. Foreign
// records are accepted only while they extend the current local head; the
// rest are skipped and reported. A full rebuild runs after the merge so the
// derived state is recomputed from the authoritative record sequence.
func (e *Engine) ImportLog(ctx context.Context, raw []byte) (ImportResult, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ImportResult{OK: false, Reason: "invalid JSON: " + err.Error()}, nil
	}
	schema, err := importSchema()
	if err != nil {
		return ImportResult{}, fmt.Errorf("chain: compile import schema: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return ImportResult{OK: false, Reason: "snapshot failed validation: " + err.Error()}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return ImportResult{OK: false, Reason: "invalid snapshot: " + err.Error()}, nil
	}
	if snap.FormatVersion != "" {
		v, err := semver.NewVersion(snap.FormatVersion)
		if err != nil {
			return ImportResult{OK: false, Reason: "invalid formatVersion: " + snap.FormatVersion}, nil
		}
		current := semver.MustParse(FormatVersion)
		if v.Major() != current.Major() {
			return ImportResult{OK: false, Reason: fmt.Sprintf("incompatible snapshot format %s (local %s)", snap.FormatVersion, FormatVersion)}, nil
		}
	}

	return e.ImportRecords(ctx, snap.Entries)
}

// ImportRecords merges an ordered sequence of foreign records. Each record
// is appended only if it extends the current local chain head at that point
// in the walk; divergent records, records scoped to a different profile or
// application, and records whose digest does not recompute are skipped.
func (e *Engine) ImportRecords(ctx context.Context, entries []*record.Record) (ImportResult, error) {
	e.mu.Lock()

	result := ImportResult{OK: true}
	for _, r := range entries {
		if r == nil {
			result.SkippedCount++
			continue
		}
		if r.PrevHash != e.head || r.AppID != e.appID || r.ProfileID != e.profileID {
			result.SkippedCount++
			result.SkippedIDs = append(result.SkippedIDs, r.ID)
			continue
		}
		payload, err := r.CanonicalPayload()
		if err != nil {
			result.SkippedCount++
			result.SkippedIDs = append(result.SkippedIDs, r.ID)
			continue
		}
		if e.hasher.Sum(record.HashInput(e.head, payload, r.Nonce)) != r.Hash {
			result.SkippedCount++
			result.SkippedIDs = append(result.SkippedIDs, r.ID)
			continue
		}
		if r.ID == "" {
			r.ID = record.NewID()
		}
		if _, err := e.store.Append(ctx, r); err != nil {
			e.mu.Unlock()
			return ImportResult{}, fmt.Errorf("chain: import append: %w", err)
		}
		e.head = r.Hash
		e.count++
		result.MergedCount++
	}

	if e.obs != nil {
		e.obs.RecordImport(ctx, result.MergedCount, result.SkippedCount)
	}
	e.mu.Unlock()

	// Recompute derived state from the full authoritative sequence.
	if result.MergedCount > 0 {
		verify, err := e.RebuildFromZero(ctx)
		if err != nil {
			return result, err
		}
		if !verify.OK {
			result.OK = false
			result.Reason = verify.Reason
		}
	}
	e.logger.Info("import complete", "merged", result.MergedCount, "skipped", result.SkippedCount)
	return result, nil
}
