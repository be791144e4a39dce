package store

import (
	"context"
	"sync"

	"liqflow/internal/models"
)

// Ring is a fixed-capacity in-memory store. Appending to a full ring
// overwrites the oldest entry. It is safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	items []models.Liquidation
	head  int // index of the next write
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Ring{items: make([]models.Liquidation, capacity)}
}

func (r *Ring) Append(_ context.Context, ev models.Liquidation) error {
	r.mu.Lock()
	r.items[r.head] = ev
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
	r.mu.Unlock()
	return nil
}

func (r *Ring) Snapshot(_ context.Context, n int) ([]models.Liquidation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]models.Liquidation, n)
	idx := r.head
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(r.items) - 1
		}
		out[i] = r.items[idx]
	}
	return out, nil
}

func (r *Ring) Capacity() int {
	return len(r.items)
}

// Len returns the number of retained events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
