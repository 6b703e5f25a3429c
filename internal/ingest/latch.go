package ingest

import (
	"sync"
	"time"
)

const latchPruneThreshold = 1024

// latch remembers transaction IDs long enough to swallow repeated
// completion events. Entries older than retention are pruned lazily.
type latch struct {
	mu        sync.Mutex
	retention time.Duration
	seen      map[string]time.Time
	now       func() time.Time
}

func newLatch(retention time.Duration) *latch {
	return &latch{
		retention: retention,
		seen:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// first reports whether id has not been seen within the retention window.
// An empty id is never de-duplicated.
func (l *latch) first(id string) bool {
	if id == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if at, ok := l.seen[id]; ok && now.Sub(at) < l.retention {
		return false
	}
	if len(l.seen) >= latchPruneThreshold {
		for key, at := range l.seen {
			if now.Sub(at) >= l.retention {
				delete(l.seen, key)
			}
		}
	}
	l.seen[id] = now
	return true
}
