package store

import (
	"database/sql"
	"fmt"

	"ledgersync/snapshot"
)

// tables maps snapshot collection names to their SQL tables. "groups" is a
// keyword in recent SQLite releases, hence member_groups.
var tables = map[string]string{
	snapshot.Products:             "products",
	snapshot.Sales:                "sales",
	snapshot.Purchases:            "purchases",
	snapshot.MultiItemPurchases:   "multi_item_purchases",
	snapshot.Packaging:            "packaging",
	snapshot.PackagingPurchases:   "packaging_purchases",
	snapshot.Expenses:             "expenses",
	snapshot.InventoryAdjustments: "inventory_adjustments",
	snapshot.Groups:               "member_groups",
	snapshot.Licenses:             "licenses",
	snapshot.Users:                "users",
	snapshot.StockReconciliation:  "stock_reconciliation",
}

func tableFor(collection string) (string, error) {
	t, ok := tables[collection]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return t, nil
}

type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// migrations run in order; each step is idempotent so a half-finished upgrade
// from an older build can be replayed.
var migrations = []migration{
	{1, "core collections", migrateToV1},
	{2, "packaging and multi-item purchases", migrateToV2},
	{3, "adjustments, groups, licenses, users", migrateToV3},
	{4, "stock reconciliation, legacy import, key repair", migrateToV4},
}

// LatestVersion is the schema version a freshly opened partition ends at.
var LatestVersion = migrations[len(migrations)-1].version

func migrateToV1(tx *sql.Tx) error {
	for _, t := range []string{"products", "sales", "purchases", "expenses"} {
		if _, err := tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id   TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`, t)); err != nil {
			return fmt.Errorf("create %s: %w", t, err)
		}
	}
	return createSingletonTables(tx)
}

func createSingletonTables(tx *sql.Tx) error {
	for _, t := range []string{"settings", "sync_meta"} {
		if _, err := tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id   TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`, t)); err != nil {
			return fmt.Errorf("create %s: %w", t, err)
		}
	}
	return nil
}

func migrateToV2(tx *sql.Tx) error {
	return createCollectionTables(tx, "packaging", "packaging_purchases", "multi_item_purchases")
}

func migrateToV3(tx *sql.Tx) error {
	return createCollectionTables(tx, "inventory_adjustments", "member_groups", "licenses", "users")
}

func migrateToV4(tx *sql.Tx) error {
	if err := createSingletonTables(tx); err != nil {
		return err
	}
	if err := createCollectionTables(tx, "stock_reconciliation"); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS legacy_kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create legacy_kv: %w", err)
	}
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create store_meta: %w", err)
	}

	// Older builds created some tables without a key on id or without
	// updated_at. Repair both in place.
	for _, t := range tables {
		if err := ensureTable(tx, t); err != nil {
			return err
		}
		if err := ensureIDPrimaryKey(tx, t); err != nil {
			return err
		}
		if !columnExists(tx, t, "updated_at") {
			if _, err := tx.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`, t)); err != nil {
				return fmt.Errorf("add %s.updated_at: %w", t, err)
			}
		}
		if _, err := tx.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at)`, t, t)); err != nil {
			return fmt.Errorf("index %s: %w", t, err)
		}
	}
	return nil
}

func createCollectionTables(tx *sql.Tx, names ...string) error {
	for _, t := range names {
		if _, err := tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT ''
		)`, t)); err != nil {
			return fmt.Errorf("create %s: %w", t, err)
		}
	}
	return nil
}

func ensureTable(tx *sql.Tx, table string) error {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	return createCollectionTables(tx, table)
}

// ensureIDPrimaryKey rebuilds a table whose id column is not its primary key.
// Duplicate ids collapse to the last row written.
func ensureIDPrimaryKey(tx *sql.Tx, table string) error {
	cols, err := tableColumns(tx, table)
	if err != nil {
		return err
	}
	if cols["id"] {
		return nil
	}
	_, hasUpdated := cols["updated_at"]
	tmp := table + "_rekey"
	if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tmp)); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`CREATE TABLE %s (
		id         TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT ''
	)`, tmp)); err != nil {
		return fmt.Errorf("rekey %s: %w", table, err)
	}
	copySQL := fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data) SELECT id, data FROM %s WHERE id IS NOT NULL AND id != '' ORDER BY rowid`, tmp, table)
	if hasUpdated {
		copySQL = fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data, updated_at) SELECT id, data, COALESCE(updated_at, '') FROM %s WHERE id IS NOT NULL AND id != '' ORDER BY rowid`, tmp, table)
	}
	if _, err := tx.Exec(copySQL); err != nil {
		return fmt.Errorf("rekey %s: copy: %w", table, err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE %s`, table)); err != nil {
		return fmt.Errorf("rekey %s: drop: %w", table, err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, tmp, table)); err != nil {
		return fmt.Errorf("rekey %s: rename: %w", table, err)
	}
	return nil
}

// tableColumns returns column names mapped to whether each is a primary key.
func tableColumns(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, typ string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = pk > 0
	}
	return cols, rows.Err()
}

func columnExists(tx *sql.Tx, table, column string) bool {
	cols, err := tableColumns(tx, table)
	if err != nil {
		return false
	}
	_, ok := cols[column]
	return ok
}

// SchemaVersion returns the partition's PRAGMA user_version.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	err := db.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v, err
}

// migrate applies every pending step and bumps user_version inside a single
// transaction.
func (db *DB) migrate() error {
	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= LatestVersion {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(tx); err != nil {
			return fmt.Errorf("v%d %s: %w", m.version, m.name, err)
		}
		db.log.Debug("store: migrated", "path", db.path, "version", m.version, "step", m.name)
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, LatestVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}
