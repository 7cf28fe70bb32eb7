package remote

import (
	"context"
	"log/slog"

	"ledgersync/snapshot"
)

// CachedGateway writes through to a durable SQL store and keeps a Redis
// copy for reads. Redis failures are logged and never fail a call that the
// SQL store served.
type CachedGateway struct {
	sql   *SQLGateway
	cache *RedisGateway
	log   *slog.Logger
}

// NewCachedGateway fronts sqlGW with cache.
func NewCachedGateway(sqlGW *SQLGateway, cache *RedisGateway, logger *slog.Logger) *CachedGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedGateway{sql: sqlGW, cache: cache, log: logger}
}

func (c *CachedGateway) TestConnectivity(ctx context.Context) bool {
	return c.sql.TestConnectivity(ctx)
}

// SaveTenantData writes SQL first, then refreshes Redis with the SQL
// timestamp so both copies agree.
func (c *CachedGateway) SaveTenantData(ctx context.Context, tenantKey string, snap *snapshot.Snapshot) (Receipt, error) {
	rcpt, err := c.sql.SaveTenantData(ctx, tenantKey, snap)
	if err != nil {
		return rcpt, err
	}
	if _, err := c.cache.put(ctx, tenantKey, snap, rcpt.Timestamp); err != nil {
		c.log.Warn("remote: cache write failed, invalidating", "tenant", tenantKey, "err", err)
		c.cache.Invalidate(ctx, tenantKey)
	}
	return rcpt, nil
}

// GetTenantData serves from Redis when present, otherwise from SQL and
// backfills the cache.
func (c *CachedGateway) GetTenantData(ctx context.Context, tenantKey string) (*TenantData, error) {
	if td, err := c.cache.GetTenantData(ctx, tenantKey); err == nil && td != nil {
		return td, nil
	} else if err != nil {
		c.log.Warn("remote: cache read failed", "tenant", tenantKey, "err", err)
	}
	td, err := c.sql.GetTenantData(ctx, tenantKey)
	if err != nil || td == nil {
		return td, err
	}
	if _, err := c.cache.put(ctx, tenantKey, td.Snapshot, td.LastSyncTimestamp); err != nil {
		c.log.Warn("remote: cache backfill failed", "tenant", tenantKey, "err", err)
	}
	return td, nil
}

func (c *CachedGateway) ListTenants(ctx context.Context) ([]TenantInfo, error) {
	return c.sql.ListTenants(ctx)
}

func (c *CachedGateway) Close() error {
	c.cache.Close()
	return c.sql.Close()
}
