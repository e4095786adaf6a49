package state

import "context"

// Store is the key/value persistence used for the cycle journal, confirmed
// orders and operator bookkeeping.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Counter is implemented by stores that can count keys under a prefix.
type Counter interface {
	Count(ctx context.Context, prefix string) (int, error)
}
