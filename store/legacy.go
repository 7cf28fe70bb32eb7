package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"ledgersync/snapshot"
)

const (
	legacyPrefix   = "ledger_"
	legacyMigrated = "legacy_migrated"
)

// LegacyKey returns the flat key-value key under which older builds kept a
// collection as one JSON array.
func LegacyKey(collection string) string {
	return legacyPrefix + collection
}

// PutLegacy stores a raw legacy value and re-arms the import.
func (db *DB) PutLegacy(ctx context.Context, key, value string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO legacy_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM store_meta WHERE key=?`, legacyMigrated); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) legacyImported(ctx context.Context) (bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key=?`, legacyMigrated).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ImportLegacy copies records from well-known legacy keys into their
// collections. Records whose id already exists are left untouched. Once
// legacy data has been imported the pass is a no-op until new legacy values
// are stored.
func (db *DB) ImportLegacy(ctx context.Context) (int, error) {
	done, err := db.legacyImported(ctx)
	if err != nil || done {
		return 0, err
	}

	values := make(map[string]string)
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM legacy_kv WHERE key LIKE ?`, legacyPrefix+"%")
	if err != nil {
		return 0, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return 0, err
		}
		values[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := nowString()
	imported := 0
	for _, name := range snapshot.Collections {
		raw, ok := values[LegacyKey(name)]
		if !ok {
			continue
		}
		var recs []snapshot.Record
		if err := json.Unmarshal([]byte(raw), &recs); err != nil {
			db.log.Warn("store: legacy value is not a record array", "key", LegacyKey(name), "err", err)
			continue
		}
		for _, rec := range recs {
			id, ok := snapshot.RecordID(rec)
			if !ok {
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO NOTHING`, tables[name]), id, string(data), now)
			if err != nil {
				return 0, fmt.Errorf("import %s/%s: %w", name, id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported += int(n)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, legacyMigrated, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return imported, nil
}

// LoadLegacyDump reads a flat JSON object of legacy key-value pairs from
// path, stores the entries with the legacy prefix and imports them. Values
// may be JSON strings holding the encoded array, or the array itself.
func (db *DB) LoadLegacyDump(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := db.ImportLegacyDump(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// ImportLegacyDump is LoadLegacyDump for an in-memory dump.
func (db *DB) ImportLegacyDump(ctx context.Context, data []byte) (int, error) {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return 0, fmt.Errorf("parse legacy dump: %w", err)
	}
	stored := 0
	for key, raw := range flat {
		if !strings.HasPrefix(key, legacyPrefix) {
			continue
		}
		value := string(raw)
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			value = s
		}
		if err := db.PutLegacy(ctx, key, value); err != nil {
			return 0, fmt.Errorf("store legacy %s: %w", key, err)
		}
		stored++
	}
	if stored == 0 {
		return 0, nil
	}
	return db.ImportLegacy(ctx)
}
