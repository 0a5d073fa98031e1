// Package accrual maps record types and payloads to experience-point and
// streak deltas. It is pure: the same ordered record sequence always derives
// the same totals, which is what makes replay authoritative.
package accrual

import (
	"encoding/json"
	"math"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

const (
	// DefaultEventXP is granted by an "xp" record with no amount field.
	DefaultEventXP = 1.0

	// HeartbeatXP is the fractional increment for passive presence.
	// Accumulated as a float and rounded only at final presentation.
	HeartbeatXP = 0.1
)

// Record types with accrual semantics.
const (
	TypeXP        = "xp"
	TypeHeartbeat = "heartbeat"
	TypeClick     = "click"
)

// Totals is the derived state of a replayed chain.
type Totals struct {
	// ExperiencePoints is the rounded accumulated total.
	ExperiencePoints int `json:"experiencePoints"`

	// RawXP is the unrounded accumulator, kept so incremental application
	// stays exact across fractional heartbeat increments.
	RawXP float64 `json:"rawXp"`

	// StreakCount counts distinct UTC calendar days with at least one
	// record. A gap of missed days does not reset it.
	StreakCount int `json:"streakCount"`

	// LastDay is the UTC date of the last counted record.
	LastDay string `json:"lastDay,omitempty"`
}

// Accumulator applies records in chain order.
type Accumulator struct {
	totals Totals
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Resume returns an accumulator continuing from previously derived totals.
func Resume(t Totals) *Accumulator {
	return &Accumulator{totals: t}
}

// Apply folds one record into the running totals.
func (a *Accumulator) Apply(r *record.Record) {
	switch r.Type {
	case TypeXP:
		a.totals.RawXP += amount(r.Data)
	case TypeHeartbeat:
		a.totals.RawXP += HeartbeatXP
	}

	day := r.Day()
	if day != "" && day != a.totals.LastDay {
		a.totals.StreakCount++
		a.totals.LastDay = day
	}

	a.totals.ExperiencePoints = Round(a.totals.RawXP)
}

// Totals returns the current derived totals.
func (a *Accumulator) Totals() Totals {
	return a.totals
}

// Replay derives totals for an ordered record sequence from scratch.
func Replay(records []*record.Record) Totals {
	acc := NewAccumulator()
	for _, r := range records {
		acc.Apply(r)
	}
	return acc.Totals()
}

// Round converts the raw accumulator to the presented integer total.
func Round(raw float64) int {
	n := int(math.Round(raw))
	if n < 0 {
		return 0
	}
	return n
}

// amount extracts data.amount, defaulting to DefaultEventXP when absent or
// not numeric. JSON round trips hand back float64 or json.Number depending
// on the decoder, so both are accepted.
func amount(data map[string]any) float64 {
	v, ok := data["amount"]
	if !ok {
		return DefaultEventXP
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return DefaultEventXP
		}
		return f
	default:
		return DefaultEventXP
	}
}
