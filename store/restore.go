package store

import (
	"context"
	"fmt"

	"ledgersync/snapshot"
)

// CollectSnapshot exports every collection and the settings object. Pending
// legacy key-value records are imported first; a failed import is logged and
// does not block the export.
func (db *DB) CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if n, err := db.ImportLegacy(ctx); err != nil {
		db.log.Warn("store: legacy import failed", "err", err)
	} else if n > 0 {
		db.log.Info("store: imported legacy records", "count", n)
	}

	s := snapshot.New()
	for _, name := range snapshot.Collections {
		recs, err := db.GetAll(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", name, err)
		}
		s.Collections[name] = recs
	}
	settings, err := db.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect settings: %w", err)
	}
	s.Settings = settings
	return s, nil
}

// RestoreReport describes what RestoreSnapshot wrote.
type RestoreReport struct {
	Counts   map[string]int `json:"counts"`
	Dropped  map[string]int `json:"dropped,omitempty"`
	Settings bool           `json:"settings"`
}

// Total returns the number of records written.
func (r RestoreReport) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// RestoreSnapshot upserts every identified record of s. Each collection is
// written in its own transaction, so a failure leaves earlier collections
// restored; rerunning the restore is safe.
func (db *DB) RestoreSnapshot(ctx context.Context, s *snapshot.Snapshot) (RestoreReport, error) {
	report := RestoreReport{Counts: make(map[string]int), Dropped: make(map[string]int)}
	if s == nil {
		return report, nil
	}
	now := nowString()
	for _, name := range s.Names() {
		table, err := tableFor(name)
		if err != nil {
			db.log.Warn("store: restore skipping unknown collection", "collection", name)
			continue
		}
		valid := make(map[string]snapshot.Record, len(s.Collections[name]))
		order := make([]string, 0, len(s.Collections[name]))
		dropped := 0
		for _, rec := range s.Collections[name] {
			id, ok := snapshot.RecordID(rec)
			if !ok {
				dropped++
				continue
			}
			if _, seen := valid[id]; !seen {
				order = append(order, id)
			}
			valid[id] = rec
		}
		if dropped > 0 {
			report.Dropped[name] = dropped
			db.log.Warn("store: restore dropped records without id", "collection", name, "dropped", dropped)
		}
		if err := db.restoreCollection(ctx, table, order, valid, now); err != nil {
			return report, fmt.Errorf("restore %s: %w", name, err)
		}
		report.Counts[name] = len(order)
	}
	if s.Settings != nil {
		if err := db.SaveSettings(ctx, s.Settings); err != nil {
			return report, fmt.Errorf("restore settings: %w", err)
		}
		report.Settings = true
	}
	return report, nil
}

func (db *DB) restoreCollection(ctx context.Context, table string, order []string, recs map[string]snapshot.Record, now string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range order {
		if err := upsertRecord(ctx, tx, table, id, recs[id], now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Stats holds per-collection record counts.
type Stats struct {
	Collections map[string]int `json:"collections"`
	Total       int            `json:"total"`
}

// GetStats counts records in every collection.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	st := Stats{Collections: make(map[string]int, len(snapshot.Collections))}
	for _, name := range snapshot.Collections {
		n, err := db.Count(ctx, name)
		if err != nil {
			return st, fmt.Errorf("count %s: %w", name, err)
		}
		st.Collections[name] = n
		st.Total += n
	}
	return st, nil
}

// ClearAll empties every business collection and the settings singleton.
// Sync metadata and the legacy import marker are kept.
func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, name := range snapshot.Collections {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, tables[name])); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return tx.Commit()
}
