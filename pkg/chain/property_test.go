//go:build property

package chain

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/forgelabs/forge-overlay/pkg/store"
)

func propEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "overlay.json"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := Open(context.Background(), st, "forge", "p1")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func appendSequence(t *testing.T, e *Engine, types []string, amounts []float64) {
	t.Helper()
	ctx := context.Background()
	for i, typ := range types {
		var data map[string]any
		if typ == "xp" {
			data = map[string]any{"amount": amounts[i%len(amounts)]}
		}
		if _, err := e.AppendEvent(ctx, Entry{Type: typ, Data: data}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestChainProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	genTypes := gen.SliceOf(gen.OneConstOf("click", "xp", "heartbeat"))
	genAmounts := gen.SliceOfN(8, gen.Float64Range(0, 100))

	properties.Property("any append sequence verifies", prop.ForAll(
		func(types []string, amounts []float64) bool {
			e := propEngine(t)
			appendSequence(t, e, types, amounts)
			res, err := e.Verify(context.Background())
			return err == nil && res.OK
		},
		genTypes, genAmounts,
	))

	properties.Property("rebuild agrees with incremental accrual", prop.ForAll(
		func(types []string, amounts []float64) bool {
			e := propEngine(t)
			appendSequence(t, e, types, amounts)
			incremental := e.Totals()
			res, err := e.RebuildFromZero(context.Background())
			return err == nil && res.OK && e.Totals() == incremental
		},
		genTypes, genAmounts,
	))

	properties.Property("export then import reproduces derived state", prop.ForAll(
		func(types []string, amounts []float64) bool {
			ctx := context.Background()
			src := propEngine(t)
			appendSequence(t, src, types, amounts)

			snap, err := src.ExportLog(ctx)
			if err != nil {
				return false
			}
			raw, err := json.Marshal(snap)
			if err != nil {
				return false
			}

			dst := propEngine(t)
			res, err := dst.ImportLog(ctx, raw)
			if err != nil || !res.OK || res.SkippedCount != 0 {
				return false
			}
			return dst.Head() == src.Head() && dst.Totals() == src.Totals()
		},
		genTypes, genAmounts,
	))

	properties.TestingRun(t)
}
