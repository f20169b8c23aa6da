// Package lock provides short-lived exclusive locks keyed by account, used to
// keep two reconciliation passes from executing the same allocation at once.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker hands out exclusive leases. ok is false when another holder owns
// key; release is then nil. Leases expire after ttl even if never released.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	seqNo uint64
}

type lease struct {
	seq     uint64
	expires time.Time
}

func NewMemory() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]lease), now: time.Now}
}

func (m *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.held[key]; ok && now.Before(l.expires) {
		return nil, false, nil
	}
	m.seqNo++
	mine := m.seqNo
	m.held[key] = lease{seq: mine, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if l, ok := m.held[key]; ok && l.seq == mine {
				delete(m.held, key)
			}
		})
	}, true, nil
}
