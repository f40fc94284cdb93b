package repositories

import (
	"context"
	"os/user"

	"peerlink/internal/core/ports"
	"peerlink/internal/infrastructure/repositories/memory"
	redisrepo "peerlink/internal/infrastructure/repositories/redis"
	"peerlink/internal/infrastructure/repositories/sqlite"
	"peerlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory opens the configured key/value store, falling back to memory
// when the configured backend is unavailable.
type StoreFactory struct {
	driver      string
	sqlite      *sqlite.KVStore
	redisClient *redis.Client
	namespace   string
	logger      *zap.SugaredLogger
}

// NewStoreFactory connects the backend named by storage.driver. Redis is also
// connected when the notification bus needs it.
func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) (*StoreFactory, error) {
	factory := &StoreFactory{
		driver:    cfg.Storage.Driver,
		namespace: localNamespace(),
		logger:    logger,
	}

	if cfg.Storage.Driver == config.StorageRedis || cfg.Notifications.Bus {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		store, err := sqlite.NewKVStore(cfg.Storage.SQLitePath, logger)
		if err != nil {
			logger.Warnw("failed to open sqlite store, falling back to memory store",
				"path", cfg.Storage.SQLitePath,
				"error", err,
			)
			factory.driver = config.StorageMemory
		} else {
			factory.sqlite = store
		}
	case config.StorageRedis:
		if factory.redisClient == nil {
			logger.Warn("falling back to memory store")
			factory.driver = config.StorageMemory
		}
	}

	logger.Infow("using key/value store", "driver", factory.driver)
	return factory, nil
}

func localNamespace() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

// Driver returns the backend actually in use after any fallback.
func (f *StoreFactory) Driver() string {
	return f.driver
}

func (f *StoreFactory) CreateKeyValueStore() ports.KeyValueStore {
	switch {
	case f.driver == config.StorageSQLite && f.sqlite != nil:
		return f.sqlite
	case f.driver == config.StorageRedis && f.redisClient != nil:
		return redisrepo.NewKVStore(f.redisClient, f.namespace)
	}
	return memory.NewKVStore()
}

// RedisClient returns the shared Redis client, or nil when Redis is not connected.
func (f *StoreFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *StoreFactory) Close() error {
	var firstErr error
	if f.sqlite != nil {
		firstErr = f.sqlite.Close()
	}
	if err := redisrepo.CloseRedisClient(f.redisClient); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ping checks whichever backends are open.
func (f *StoreFactory) Ping(ctx context.Context) error {
	if f.sqlite != nil {
		if err := f.sqlite.Ping(ctx); err != nil {
			return err
		}
	}
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
