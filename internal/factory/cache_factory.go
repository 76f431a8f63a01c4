package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/adapters/cache"
	"github.com/mikey/mail-triage/internal/adapters/rdap"
	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/config"
)

// CacheFactory creates the domain cache, its persistent store and the
// registration lookup that fills it
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDomainCache creates the in-process domain cache
func (f *CacheFactory) CreateDomainCache() *cache.MemoryCache {
	cacheCfg := f.cfg.GetCache()
	f.logger.Info("Using in-memory domain cache",
		zap.Int("capacity", cacheCfg.Capacity),
		zap.Duration("cleanup_frequency", cacheCfg.CleanupFrequency))
	return cache.NewMemoryCache(f.logger, cacheCfg.Capacity, cacheCfg.CleanupFrequency)
}

// CreateStore creates the configured persistent backend. It returns nil
// when persistence is disabled.
func (f *CacheFactory) CreateStore(ctx context.Context) (store.Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "", config.StoreNone:
		f.logger.Info("Persistence disabled")
		return nil, nil

	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for SQLite database: %w", err)
		}
		f.logger.Info("Using SQLite store", zap.String("path", storeCfg.SQLitePath))
		return f.sqlStore(store.DialectSQLite, storeCfg.SQLitePath)

	case config.StoreMySQL:
		if storeCfg.MySQLDSN == "" {
			return nil, errors.New("store.mysql_dsn is required for the mysql store")
		}
		f.logger.Info("Using MySQL store")
		return f.sqlStore(store.DialectMySQL, storeCfg.MySQLDSN)

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     storeCfg.RedisAddr,
			Password: storeCfg.RedisPassword,
			DB:       storeCfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", storeCfg.RedisAddr, err)
		}
		f.logger.Info("Using Redis store", zap.String("addr", storeCfg.RedisAddr))
		return store.NewRedisStore(client, f.logger, storeCfg.StreamMaxLen), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}

func (f *CacheFactory) sqlStore(dialect, dsn string) (store.Store, error) {
	s, err := store.NewSQLStore(dialect, dsn, f.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateLookup creates the RDAP registration lookup
func (f *CacheFactory) CreateLookup() *rdap.Client {
	return rdap.NewClient(f.cfg.GetRDAP(), nil, f.logger)
}
