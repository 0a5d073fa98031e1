// Package record defines the immutable event record that forms the overlay
// chain. Records are append-only: once persisted they are never edited, only
// superseded by new appends.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs/forge-overlay/pkg/canonical"
)

// GenesisHash is the sentinel chain head of an empty chain and the PrevHash
// of the first record.
const GenesisHash = "GENESIS"

// Record is one logged action, hash-linked to its predecessor.
//
// The digest covers PrevHash, the canonical payload (Type, Data, Timestamp,
// AppID, ProfileID) and Nonce. ID is a storage identifier only and is
// deliberately outside the digest.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"` // RFC 3339 UTC, assigned at creation
	AppID     string         `json:"appId"`
	ProfileID string         `json:"profileId"`
	PrevHash  string         `json:"prevHash"`
	Nonce     string         `json:"nonce"`
	Hash      string         `json:"hash"`
}

// CanonicalPayload returns the RFC 8785 serialization of the hashed fields.
// A nil Data map serializes as {} so hashing is always defined.
func (r *Record) CanonicalPayload() (string, error) {
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	payload := map[string]any{
		"type":      r.Type,
		"data":      data,
		"timestamp": r.Timestamp,
		"appId":     r.AppID,
		"profileId": r.ProfileID,
	}
	s, err := canonical.String(payload)
	if err != nil {
		return "", fmt.Errorf("record: canonical payload: %w", err)
	}
	return s, nil
}

// HashInput builds the exact digest input for a record.
func HashInput(prevHash, payload, nonce string) string {
	return prevHash + "|" + payload + "|" + nonce
}

// Day returns the UTC calendar date of the record (first 10 characters of
// the timestamp), used by streak accrual.
func (r *Record) Day() string {
	if len(r.Timestamp) < 10 {
		return r.Timestamp
	}
	return r.Timestamp[:10]
}

// NewNonce returns a fresh random nonce, mixed into the digest to prevent
// precomputation of replacement records.
func NewNonce() string {
	return uuid.New().String()
}

// NewID returns a fresh record storage identifier.
func NewID() string {
	return uuid.New().String()
}

// NewTimestamp formats t as the immutable record timestamp.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
