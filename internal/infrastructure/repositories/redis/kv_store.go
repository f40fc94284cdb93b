package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const kvKeyPrefix = "peerlink:kv:"

// KVStore keeps the persisted keys of one client installation in a Redis
// hash, so several machines can share an identity.
type KVStore struct {
	client *redis.Client
	key    string
}

// NewKVStore returns a store for namespace (usually the OS user name).
func NewKVStore(client *redis.Client, namespace string) *KVStore {
	if namespace == "" {
		namespace = "default"
	}
	return &KVStore{client: client, key: kvKeyPrefix + namespace}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
