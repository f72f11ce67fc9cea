// Package dedupe tracks which work-item keys have been claimed during a run.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records claimed keys so each key is attempted at most once per run.
type Deduper interface {
	// SeenAndRecord atomically checks if key was claimed and claims it if not.
	// Returns true if key was already claimed.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases a claim. Only used when an item was claimed but never
	// reached the resolver (e.g. the queue rejected it).
	Unrecord(ctx context.Context, key string)

	// Keys returns the claimed keys in claim order.
	Keys() []string

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus an insertion-ordered
// slice. Entries are never evicted: forgetting a key would allow a second
// attempt within the same run.
type inMemoryDeduper struct {
	mu    sync.Mutex
	seen  map[string]int // key -> index into order, -1 once released
	order []string
	size  atomic.Int64
	hint  int
}

// NewInMemoryDeduper creates an empty per-run claim set.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int, d.hint)
	d.order = make([]string, 0, d.hint)
	return d
}

// SeenAndRecord atomically checks and claims key.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx, exists := d.seen[key]; exists && idx >= 0 {
		return true
	}
	d.seen[key] = len(d.order)
	d.order = append(d.order, key)
	d.size.Add(1)
	return false
}

// Unrecord releases key.
func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, exists := d.seen[key]
	if !exists || idx < 0 {
		return
	}
	d.order[idx] = ""
	d.seen[key] = -1
	d.size.Add(-1)
}

// Keys returns the currently claimed keys in claim order.
func (d *inMemoryDeduper) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.order))
	for _, k := range d.order {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Size returns the number of claimed keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
