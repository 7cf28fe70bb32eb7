package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"ledgersync/snapshot"
)

// EventEmitter receives store notifications. The engine adapts it onto its
// event bus.
type EventEmitter interface {
	EmitDataRestored(partition string, report RestoreReport)
}

// Options configures a Local store.
type Options struct {
	Dir     string
	Logger  *slog.Logger
	Emitter EventEmitter
}

// Local is the tenant-partitioned local store. Exactly one partition is open
// at a time; every operation runs against it, so a record written under one
// tenant is unreachable after switching to another.
type Local struct {
	mu        sync.RWMutex
	dir       string
	log       *slog.Logger
	emit      EventEmitter
	db        *DB
	partition string
}

// NewLocal creates a Local store rooted at opts.Dir. No partition is open
// until SelectTenant is called.
func NewLocal(opts Options) *Local {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{dir: opts.Dir, log: logger, emit: opts.Emitter}
}

// SetEmitter replaces the notification sink.
func (l *Local) SetEmitter(e EventEmitter) {
	l.mu.Lock()
	l.emit = e
	l.mu.Unlock()
}

// SelectTenant closes the current partition and opens the one for
// partition. The empty key selects the owner's default partition.
func (l *Local) SelectTenant(partition string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil && l.partition == partition {
		return nil
	}
	if l.db != nil {
		if err := l.db.Close(); err != nil {
			l.log.Warn("store: close partition", "partition", l.partition, "err", err)
		}
		l.db = nil
	}
	l.partition = partition

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	db, err := Open(PartitionPath(l.dir, partition), l.log)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	l.db = db
	l.log.Info("store: partition selected", "partition", partitionLabel(partition), "path", db.Path())
	return nil
}

// ActivePartition returns the selected partition key and whether a partition
// is open.
func (l *Local) ActivePartition() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.partition, l.db != nil
}

// Close closes the open partition.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// with runs fn against the open partition while holding the read lock so the
// partition cannot be switched underneath it.
func (l *Local) with(fn func(db *DB) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return ErrStoreUnavailable
	}
	return fn(l.db)
}

func (l *Local) Save(ctx context.Context, collection string, rec snapshot.Record) error {
	return l.with(func(db *DB) error { return db.Save(ctx, collection, rec) })
}

func (l *Local) GetAll(ctx context.Context, collection string) ([]snapshot.Record, error) {
	var out []snapshot.Record
	err := l.with(func(db *DB) (err error) {
		out, err = db.GetAll(ctx, collection)
		return err
	})
	return out, err
}

func (l *Local) GetByID(ctx context.Context, collection, id string) (snapshot.Record, error) {
	var out snapshot.Record
	err := l.with(func(db *DB) (err error) {
		out, err = db.GetByID(ctx, collection, id)
		return err
	})
	return out, err
}

func (l *Local) Delete(ctx context.Context, collection, id string) error {
	return l.with(func(db *DB) error { return db.Delete(ctx, collection, id) })
}

func (l *Local) CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	var out *snapshot.Snapshot
	err := l.with(func(db *DB) (err error) {
		out, err = db.CollectSnapshot(ctx)
		return err
	})
	return out, err
}

// RestoreSnapshot restores s into the open partition and, on success, emits
// a data restored notification with the per-collection counts.
func (l *Local) RestoreSnapshot(ctx context.Context, s *snapshot.Snapshot) (RestoreReport, error) {
	var report RestoreReport
	var partition string
	err := l.with(func(db *DB) (err error) {
		partition = l.partition
		report, err = db.RestoreSnapshot(ctx, s)
		return err
	})
	if err != nil {
		return report, err
	}
	l.log.Info("store: data restored", "partition", partitionLabel(partition), "records", report.Total(), "settings", report.Settings)
	l.mu.RLock()
	emit := l.emit
	l.mu.RUnlock()
	if emit != nil {
		emit.EmitDataRestored(partition, report)
	}
	return report, nil
}

func (l *Local) ClearAll(ctx context.Context) error {
	return l.with(func(db *DB) error { return db.ClearAll(ctx) })
}

func (l *Local) GetStats(ctx context.Context) (Stats, error) {
	var out Stats
	err := l.with(func(db *DB) (err error) {
		out, err = db.GetStats(ctx)
		return err
	})
	return out, err
}

func (l *Local) GetSettings(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := l.with(func(db *DB) (err error) {
		out, err = db.GetSettings(ctx)
		return err
	})
	return out, err
}

func (l *Local) SaveSettings(ctx context.Context, data map[string]any) error {
	return l.with(func(db *DB) error { return db.SaveSettings(ctx, data) })
}

func (l *Local) SyncMeta(ctx context.Context) (*SyncMeta, error) {
	var out *SyncMeta
	err := l.with(func(db *DB) (err error) {
		out, err = db.SyncMeta(ctx)
		return err
	})
	return out, err
}

func (l *Local) SetSyncMeta(ctx context.Context, m SyncMeta) error {
	return l.with(func(db *DB) error { return db.SetSyncMeta(ctx, m) })
}

func (l *Local) ImportLegacy(ctx context.Context) (int, error) {
	var n int
	err := l.with(func(db *DB) (err error) {
		n, err = db.ImportLegacy(ctx)
		return err
	})
	return n, err
}

func (l *Local) PutLegacy(ctx context.Context, key, value string) error {
	return l.with(func(db *DB) error { return db.PutLegacy(ctx, key, value) })
}

func (l *Local) LoadLegacyDump(ctx context.Context, path string) (int, error) {
	var n int
	err := l.with(func(db *DB) (err error) {
		n, err = db.LoadLegacyDump(ctx, path)
		return err
	})
	return n, err
}

func (l *Local) ImportLegacyDump(ctx context.Context, data []byte) (int, error) {
	var n int
	err := l.with(func(db *DB) (err error) {
		n, err = db.ImportLegacyDump(ctx, data)
		return err
	})
	return n, err
}

func (l *Local) RebuildStockReconciliation(ctx context.Context) (int, error) {
	var n int
	err := l.with(func(db *DB) (err error) {
		n, err = db.RebuildStockReconciliation(ctx)
		return err
	})
	return n, err
}

func (l *Local) SchemaVersion() (int, error) {
	var v int
	err := l.with(func(db *DB) (err error) {
		v, err = db.SchemaVersion()
		return err
	})
	return v, err
}

func partitionLabel(p string) string {
	if p == "" {
		return "(owner)"
	}
	return p
}
