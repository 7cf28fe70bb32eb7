package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SyncStatus is the persisted outcome of the latest sync attempt.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

const syncMetaID = "sync_status"

// SyncMeta is the sync bookkeeping singleton. Only the sync coordinator
// writes it.
type SyncMeta struct {
	LastSyncTimestamp time.Time  `json:"lastSyncTimestamp"`
	TenantKey         string     `json:"tenantKey"`
	Status            SyncStatus `json:"status"`
	Message           string     `json:"message,omitempty"`
	LastAttempt       time.Time  `json:"lastAttempt"`
}

// SyncMeta returns the stored metadata, or nil before the first attempt.
func (db *DB) SyncMeta(ctx context.Context) (*SyncMeta, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT data FROM sync_meta WHERE id=?`, syncMetaID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m SyncMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode sync meta: %w", err)
	}
	return &m, nil
}

// SetSyncMeta overwrites the metadata singleton.
func (db *DB) SetSyncMeta(ctx context.Context, m SyncMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO sync_meta (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data`, syncMetaID, string(raw))
	return err
}
