package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgelabs/forge-overlay/pkg/record"
)

// SQLStore is the indexed backend on database/sql. The driver is sqlite in
// production; tests inject mock connections through NewSQL.
type SQLStore struct {
	db        *sql.DB
	appID     string
	profileID string
	closed    bool
}

// OpenSQLite opens (or creates) the sqlite database at path and migrates it.
func OpenSQLite(ctx context.Context, path, appID, profileID string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s, err := NewSQL(ctx, db, appID, profileID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing connection and migrates the schema.
func NewSQL(ctx context.Context, db *sql.DB, appID, profileID string) (*SQLStore, error) {
	s := &SQLStore{db: db, appID: appID, profileID: profileID}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		app_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		type TEXT NOT NULL,
		data JSON,
		timestamp TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		nonce TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value JSON NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, rec *record.Record) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return "", fmt.Errorf("store: marshal record data: %w", err)
	}
	query := `INSERT INTO records (id, app_id, profile_id, type, data, timestamp, prev_hash, nonce, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.AppID, rec.ProfileID, rec.Type, string(dataJSON), rec.Timestamp, rec.PrevHash, rec.Nonce, rec.Hash,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert record: %w", err)
	}
	return rec.ID, nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]*record.Record, error) {
	if s.closed {
		return nil, ErrClosed
	}
	query := `SELECT id, type, data, timestamp, prev_hash, nonce, hash
		FROM records
		WHERE app_id = ? AND profile_id = ?
		ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, s.appID, s.profileID)
	if err != nil {
		return nil, fmt.Errorf("store: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*record.Record
	for rows.Next() {
		var (
			rec      record.Record
			dataJSON sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &dataJSON, &rec.Timestamp, &rec.PrevHash, &rec.Nonce, &rec.Hash); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "null" {
			if err := json.Unmarshal([]byte(dataJSON.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("store: unmarshal record data: %w", err)
			}
		}
		rec.AppID = s.appID
		rec.ProfileID = s.profileID
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate records: %w", err)
	}
	return records, nil
}

func (s *SQLStore) metaKey() string {
	return Namespace + "::meta::" + s.appID + "::" + s.profileID
}

func (s *SQLStore) GetMeta(ctx context.Context) (Meta, bool, error) {
	if s.closed {
		return Meta{}, false, ErrClosed
	}
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, s.metaKey())
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return Meta{}, false, nil
		}
		return Meta{}, false, fmt.Errorf("store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal([]byte(value), &meta); err != nil {
		return Meta{}, false, fmt.Errorf("store: decode meta: %w", err)
	}
	return meta, true, nil
}

func (s *SQLStore) PutMeta(ctx context.Context, meta Meta) error {
	if s.closed {
		return ErrClosed
	}
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}
	query := `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, s.metaKey(), string(value)); err != nil {
		return fmt.Errorf("store: write meta: %w", err)
	}
	return nil
}

func (s *SQLStore) Backend() Backend { return BackendSQLite }

func (s *SQLStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
