package imagestack

import "sync"

type bundleKey struct {
	location int
	bundle   int
}

type slot[T any] struct {
	key  bundleKey
	val  T
	err  error
	used bool
}

// ring is a fixed-capacity cache that overwrites slots in insertion order.
// It holds completed results only, failures included.
type ring[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	next  int
}

func newRing[T any](n int) *ring[T] {
	if n < 1 {
		n = 1
	}
	return &ring[T]{slots: make([]slot[T], n)}
}

func (r *ring[T]) get(k bundleKey) (slot[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.used && s.key == k {
			return s, true
		}
	}
	return slot[T]{}, false
}

// put stores a result. A key already present is updated in place; otherwise
// the oldest slot is overwritten.
func (r *ring[T]) put(k bundleKey, v T, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].key == k {
			r.slots[i].val, r.slots[i].err = v, err
			return
		}
	}
	r.slots[r.next] = slot[T]{key: k, val: v, err: err, used: true}
	r.next = (r.next + 1) % len(r.slots)
}

func (r *ring[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.used {
			n++
		}
	}
	return n
}
