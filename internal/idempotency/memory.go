package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger. Entries vanish on restart and are
// not shared between processes.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryLedger returns an empty ledger with the given TTL.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		ttl:     ttl,
		seen:    map[string]time.Time{},
		nowFunc: time.Now,
	}
}

// WithClock replaces the ledger's time source.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.nowFunc = now
	return l
}

func (l *MemoryLedger) AlreadyProcessed(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveLocked(key), nil
}

func (l *MemoryLedger) MarkProcessed(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.liveLocked(key) {
		return false, nil
	}
	l.seen[key] = l.nowFunc()
	return true, nil
}

func (l *MemoryLedger) Forget(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}

// Len is the number of entries currently held, expired or not.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Sweep evicts expired entries and returns how many were removed.
func (l *MemoryLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.seen {
		if !l.liveLocked(k) {
			delete(l.seen, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLedger) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

func (l *MemoryLedger) liveLocked(key string) bool {
	at, ok := l.seen[key]
	if !ok {
		return false
	}
	if l.nowFunc().Sub(at) >= l.ttl {
		delete(l.seen, key)
		return false
	}
	return true
}
