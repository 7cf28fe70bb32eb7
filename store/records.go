package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ledgersync/snapshot"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRecord(ctx context.Context, ex execer, table, id string, rec snapshot.Record, now string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	_, err = ex.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`, table),
		id, string(data), now)
	return err
}

// Save upserts rec into collection, keyed by its id field.
func (db *DB) Save(ctx context.Context, collection string, rec snapshot.Record) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	id, ok := snapshot.RecordID(rec)
	if !ok {
		return fmt.Errorf("save %s: %w", collection, ErrMissingID)
	}
	return upsertRecord(ctx, db, table, id, rec, nowString())
}

// GetAll returns every record of collection in insertion order.
func (db *DB) GetAll(ctx context.Context, collection string) ([]snapshot.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, data FROM %s ORDER BY rowid`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs := []snapshot.Record{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var rec snapshot.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			db.log.Warn("store: skipping undecodable record", "collection", collection, "id", id, "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// GetByID returns the record with the given id, or ErrNotFound.
func (db *DB) GetByID(ctx context.Context, collection, id string) (snapshot.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	var data string
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id=?`, table), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec snapshot.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// Delete removes a record. Deleting an absent id is not an error.
func (db *DB) Delete(ctx context.Context, collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, table), id)
	return err
}

// Count returns the number of records in collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	table, err := tableFor(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}
