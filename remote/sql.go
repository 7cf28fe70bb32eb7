package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledgersync/config"
	"ledgersync/snapshot"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLGateway keeps one snapshot row per tenant in SQLite or PostgreSQL.
type SQLGateway struct {
	db      *sql.DB
	dialect Dialect
	now     Clock
}

// OpenSQL opens the database named by cfg.Driver and ensures the schema.
func OpenSQL(cfg *config.RemoteConfig) (*SQLGateway, error) {
	switch cfg.Driver {
	case "sqlite":
		return openSQLite(cfg.SQLite.Path)
	case "postgres":
		return openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*SQLGateway, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return newSQLGateway(sqlDB, sqliteDialect{})
}

func openPostgres(cfg *config.PostgresConfig) (*SQLGateway, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLGateway(sqlDB, postgresDialect{})
}

func newSQLGateway(sqlDB *sql.DB, d Dialect) (*SQLGateway, error) {
	g := &SQLGateway{db: sqlDB, dialect: d, now: utcNow}
	if err := g.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.Name(), err)
	}
	return g, nil
}

func (g *SQLGateway) migrate() error {
	_, err := g.db.Exec(g.dialect.SnapshotTable())
	return err
}

// SetClock overrides the server clock.
func (g *SQLGateway) SetClock(c Clock) { g.now = c }

// Close closes the database.
func (g *SQLGateway) Close() error { return g.db.Close() }

func (g *SQLGateway) TestConnectivity(ctx context.Context) bool {
	return g.db.PingContext(ctx) == nil
}

func (g *SQLGateway) SaveTenantData(ctx context.Context, tenantKey string, snap *snapshot.Snapshot) (Receipt, error) {
	if tenantKey == "" || snap == nil {
		return Receipt{}, fmt.Errorf("%w: tenant key and snapshot are required", ErrRemoteRejected)
	}
	data, err := snap.Encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode snapshot: %v", ErrRemoteRejected, err)
	}
	// Postgres keeps microseconds; truncate so reads compare equal.
	ts := g.now().UTC().Truncate(time.Microsecond)
	count := snap.Count()
	_, err = g.db.ExecContext(ctx, g.dialect.Bind(`INSERT INTO tenant_snapshots (tenant_key, data, data_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_key) DO UPDATE SET data=excluded.data, data_count=excluded.data_count, updated_at=excluded.updated_at`),
		tenantKey, string(data), count, g.dialect.TimeArg(ts))
	if err != nil {
		return Receipt{}, fmt.Errorf("save tenant %s: %w", tenantKey, err)
	}
	return Receipt{Timestamp: ts, DataCount: count}, nil
}

func (g *SQLGateway) GetTenantData(ctx context.Context, tenantKey string) (*TenantData, error) {
	var data []byte
	var updated any
	err := g.db.QueryRowContext(ctx, g.dialect.Bind(`SELECT data, updated_at FROM tenant_snapshots WHERE tenant_key=?`), tenantKey).
		Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantKey, err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", ErrRemoteRejected, tenantKey, err)
	}
	ts, err := g.dialect.ScanTime(updated)
	if err != nil {
		return nil, fmt.Errorf("tenant %s timestamp: %w", tenantKey, err)
	}
	return &TenantData{Snapshot: snap, LastSyncTimestamp: ts}, nil
}

// ListTenants returns every stored tenant ordered by key.
func (g *SQLGateway) ListTenants(ctx context.Context) ([]TenantInfo, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT tenant_key, data_count, updated_at FROM tenant_snapshots ORDER BY tenant_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TenantInfo
	for rows.Next() {
		var info TenantInfo
		var updated any
		if err := rows.Scan(&info.TenantKey, &info.DataCount, &updated); err != nil {
			return nil, err
		}
		if info.LastSyncTimestamp, err = g.dialect.ScanTime(updated); err != nil {
			return nil, fmt.Errorf("tenant %s timestamp: %w", info.TenantKey, err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
