package remote

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect covers what differs between the SQL backends of the snapshot
// table: DDL, placeholders and timestamp encoding.
type Dialect interface {
	Name() string
	SnapshotTable() string
	Bind(query string) string
	TimeArg(t time.Time) any
	ScanTime(v any) (time.Time, error)
}

const snapshotTableDDL = `CREATE TABLE IF NOT EXISTS tenant_snapshots (
	tenant_key TEXT PRIMARY KEY,
	data       %s NOT NULL,
	data_count INTEGER NOT NULL DEFAULT 0,
	updated_at %s NOT NULL
)`

// sqliteDialect stores timestamps as RFC 3339 text, which sorts and
// compares the same as the instant it encodes.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) SnapshotTable() string {
	return fmt.Sprintf(snapshotTableDDL, "TEXT", "TEXT")
}

func (sqliteDialect) Bind(query string) string { return query }

func (sqliteDialect) TimeArg(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }

func (sqliteDialect) ScanTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case time.Time:
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) SnapshotTable() string {
	return fmt.Sprintf(snapshotTableDDL, "JSONB", "TIMESTAMPTZ")
}

func (postgresDialect) Bind(query string) string { return Rebind(query) }

func (postgresDialect) TimeArg(t time.Time) any { return t.UTC() }

func (postgresDialect) ScanTime(v any) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
	return t.UTC(), nil
}

// Rebind numbers ? placeholders as $1, $2, ... for PostgreSQL. Question
// marks inside single-quoted literals are left alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
