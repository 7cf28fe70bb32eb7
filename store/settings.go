package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledgersync/snapshot"
)

// settingsEnvelope is the stored shape of the settings singleton.
type settingsEnvelope struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// GetSettings returns the nested settings object, or nil if none is stored.
func (db *DB) GetSettings(ctx context.Context) (map[string]any, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id=?`, snapshot.SettingsID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env settingsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return env.Data, nil
}

// SaveSettings replaces the settings singleton. data may be the bare
// configuration object or an already enveloped one.
func (db *DB) SaveSettings(ctx context.Context, data map[string]any) error {
	env := settingsEnvelope{
		ID:        snapshot.SettingsID,
		Data:      normalizeSettings(data),
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO settings (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data`, snapshot.SettingsID, string(raw))
	return err
}

// normalizeSettings unwraps {id, data, updatedAt} envelopes, including
// envelopes nested by earlier round trips, down to the configuration object.
func normalizeSettings(in map[string]any) map[string]any {
	cur := in
	for {
		inner, ok := cur["data"].(map[string]any)
		if !ok {
			break
		}
		if id, _ := cur["id"].(string); id != snapshot.SettingsID {
			break
		}
		cur = inner
	}
	out := make(map[string]any, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}
