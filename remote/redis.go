package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledgersync/config"
	"ledgersync/snapshot"

	"github.com/redis/go-redis/v9"
)

// RedisGateway stores each tenant's snapshot as one JSON blob.
type RedisGateway struct {
	client *redis.Client
	prefix string
	now    Clock
}

// NewRedisClient creates a client from config.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisGateway wraps client. Keys are namespaced under prefix.
func NewRedisGateway(client *redis.Client, prefix string) *RedisGateway {
	if prefix == "" {
		prefix = "ledgersync"
	}
	return &RedisGateway{client: client, prefix: prefix, now: utcNow}
}

// SetClock overrides the server clock.
func (r *RedisGateway) SetClock(c Clock) { r.now = c }

// Close closes the client.
func (r *RedisGateway) Close() error { return r.client.Close() }

func (r *RedisGateway) snapshotKey(tenantKey string) string {
	return fmt.Sprintf("%s:tenant:%s:snapshot", r.prefix, tenantKey)
}

func (r *RedisGateway) tenantsKey() string {
	return r.prefix + ":tenants"
}

type redisBlob struct {
	Data              json.RawMessage `json:"data"`
	DataCount         int             `json:"dataCount"`
	LastSyncTimestamp time.Time       `json:"lastSyncTimestamp"`
}

func (r *RedisGateway) TestConnectivity(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisGateway) SaveTenantData(ctx context.Context, tenantKey string, snap *snapshot.Snapshot) (Receipt, error) {
	if tenantKey == "" || snap == nil {
		return Receipt{}, fmt.Errorf("%w: tenant key and snapshot are required", ErrRemoteRejected)
	}
	return r.put(ctx, tenantKey, snap, r.now().UTC())
}

func (r *RedisGateway) put(ctx context.Context, tenantKey string, snap *snapshot.Snapshot, ts time.Time) (Receipt, error) {
	data, err := snap.Encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode snapshot: %v", ErrRemoteRejected, err)
	}
	blob, err := json.Marshal(redisBlob{Data: data, DataCount: snap.Count(), LastSyncTimestamp: ts})
	if err != nil {
		return Receipt{}, err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.snapshotKey(tenantKey), blob, 0)
	pipe.SAdd(ctx, r.tenantsKey(), tenantKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Receipt{}, fmt.Errorf("save tenant %s: %w", tenantKey, err)
	}
	return Receipt{Timestamp: ts, DataCount: snap.Count()}, nil
}

func (r *RedisGateway) GetTenantData(ctx context.Context, tenantKey string) (*TenantData, error) {
	blob, err := r.get(ctx, tenantKey)
	if err != nil || blob == nil {
		return nil, err
	}
	snap, err := snapshot.Decode(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", ErrRemoteRejected, tenantKey, err)
	}
	return &TenantData{Snapshot: snap, LastSyncTimestamp: blob.LastSyncTimestamp}, nil
}

func (r *RedisGateway) get(ctx context.Context, tenantKey string) (*redisBlob, error) {
	data, err := r.client.Get(ctx, r.snapshotKey(tenantKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantKey, err)
	}
	var blob redisBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", ErrRemoteRejected, tenantKey, err)
	}
	return &blob, nil
}

// ListTenants returns every stored tenant ordered by key.
func (r *RedisGateway) ListTenants(ctx context.Context) ([]TenantInfo, error) {
	keys, err := r.client.SMembers(ctx, r.tenantsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]TenantInfo, 0, len(keys))
	for _, k := range keys {
		blob, err := r.get(ctx, k)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		out = append(out, TenantInfo{TenantKey: k, DataCount: blob.DataCount, LastSyncTimestamp: blob.LastSyncTimestamp})
	}
	return out, nil
}

// Invalidate drops a tenant's cached snapshot.
func (r *RedisGateway) Invalidate(ctx context.Context, tenantKey string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.snapshotKey(tenantKey))
	pipe.SRem(ctx, r.tenantsKey(), tenantKey)
	_, err := pipe.Exec(ctx)
	return err
}
