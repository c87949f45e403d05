package lock

import (
	"context"
	"sync"
	"time"
)

// LocalManager implements Manager with process-local state. Suitable for
// single-instance deployments and tests.
type LocalManager struct {
	mu    sync.Mutex
	holds map[string]time.Time
}

func NewLocalManager() *LocalManager {
	return &LocalManager{holds: make(map[string]time.Time)}
}

func (m *LocalManager) Acquire(_ context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if expiry, held := m.holds[name]; held && expiry.After(now) {
		return nil, false, nil
	}

	expiry := now.Add(ttl)
	m.holds[name] = expiry

	release := func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()

		// Only clear our own hold; a later acquisition after expiry
		// must not be released here.
		if current, held := m.holds[name]; held && current.Equal(expiry) {
			delete(m.holds, name)
		}
	}

	return release, true, nil
}
