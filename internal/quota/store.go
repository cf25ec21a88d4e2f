// Package quota adapts the shared key-value store used for rate-limit buckets.
package quota

import "context"

// Store is the capability the rate limiter needs from the shared store.
// A nil Store means the store is disabled.
type Store interface {
	// SAdd adds members to the set stored at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// Eval runs script server-side against keys and args and returns its reply.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}
