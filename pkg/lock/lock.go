// Package lock provides named mutual exclusion for coordinating scheduler
// instances. Only one holder of a name proceeds; everyone else backs off
// until the TTL expires or the holder releases.
package lock

import (
	"context"
	"time"
)

// ReleaseFunc releases a held lock. Safe to call more than once.
type ReleaseFunc func(ctx context.Context)

// Manager acquires named locks with a TTL. Acquire is non-blocking: when the
// lock is already held it returns acquired=false without error.
type Manager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}
