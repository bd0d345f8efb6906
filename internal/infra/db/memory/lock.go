package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"premium-reconciler/internal/domain"
)

// lockTable hands out one-slot semaphores per key.
type lockTable struct {
	mu   sync.Mutex
	sems map[string]*sem
}

type sem struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{sems: make(map[string]*sem)}
}

func (l *lockTable) get(key string) *sem {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = &sem{ch: make(chan struct{}, 1)}
		l.sems[key] = s
	}
	s.refs++
	return s
}

func (l *lockTable) put(key string, s *sem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.sems, key)
	}
}

// acquire waits up to wait for key. Giving up yields domain.ErrLockTimeout.
func (l *lockTable) acquire(ctx context.Context, key string, wait time.Duration) error {
	s := l.get(key)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-timer.C:
		l.put(key, s)
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	case <-ctx.Done():
		l.put(key, s)
		return fmt.Errorf("%w: %v", domain.ErrTransientStorage, ctx.Err())
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	s, ok := l.sems[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-s.ch
	l.put(key, s)
}
