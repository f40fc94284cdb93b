package ports

import "context"

// KeyValueStore is the durable local store. Get reports found=false for missing keys.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
