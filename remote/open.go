package remote

import (
	"fmt"
	"log/slog"

	"ledgersync/config"
)

// Open builds the gateway selected by cfg.Driver. SQL drivers are fronted
// with Redis when cfg.Cache is set.
func Open(cfg *config.RemoteConfig, logger *slog.Logger) (Gateway, error) {
	switch cfg.Driver {
	case "sqlite", "postgres":
		sqlGW, err := OpenSQL(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.Cache {
			return sqlGW, nil
		}
		cache := NewRedisGateway(NewRedisClient(&cfg.Redis), cfg.Redis.KeyPrefix)
		return NewCachedGateway(sqlGW, cache, logger), nil
	case "redis":
		return NewRedisGateway(NewRedisClient(&cfg.Redis), cfg.Redis.KeyPrefix), nil
	case "http":
		return NewHTTPGateway(cfg.HTTP.URL, nil, cfg.HTTP.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported remote driver: %s", cfg.Driver)
	}
}

// CloseGateway closes g if it holds connections.
func CloseGateway(g Gateway) error {
	if c, ok := g.(Closer); ok {
		return c.Close()
	}
	return nil
}
