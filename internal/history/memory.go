package history

import (
	"context"
	"sync"
)

// DefaultCapacity bounds the memory ledger when no capacity is given.
const DefaultCapacity = 256

// MemoryLedger keeps the most recent entries in a fixed-size ring.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewMemoryLedger returns a ring holding up to capacity entries.
func NewMemoryLedger(capacity int) *MemoryLedger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryLedger{entries: make([]Entry, capacity)}
}

func (l *MemoryLedger) Record(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return nil
}

// Recent returns up to limit entries for identity, newest first. An empty
// identity matches every entry; a non-positive limit returns everything
// retained.
func (l *MemoryLedger) Recent(_ context.Context, identity string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.entries)
	}
	out := make([]Entry, 0)
	for i := 1; i <= size; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		entry := l.entries[(l.next-i+len(l.entries))%len(l.entries)]
		if identity != "" && entry.Identity != identity {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

func (l *MemoryLedger) Close(context.Context) error { return nil }
