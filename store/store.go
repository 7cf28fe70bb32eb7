package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is one open tenant partition.
type DB struct {
	*sql.DB
	path string
	log  *slog.Logger
}

// Open opens (creating if needed) the partition file at path and brings its
// schema up to LatestVersion.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db := &DB{DB: sqlDB, path: path, log: logger}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

// Path returns the partition file path.
func (db *DB) Path() string { return db.path }

// PartitionPath returns the file backing a partition. The empty key is the
// owner's default partition.
func PartitionPath(dir, partition string) string {
	if partition == "" {
		return filepath.Join(dir, "ledger.db")
	}
	return filepath.Join(dir, "ledger_"+sanitizeKey(partition)+".db")
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTime accepts the formats this store has written over time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
