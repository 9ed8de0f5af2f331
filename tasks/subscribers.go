package tasks

import "sync"

// registry holds callbacks in registration order. Each add is an
// independent registration, even for the same function.
type registry[F any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []registration[F]
}

type registration[F any] struct {
	id uint64
	fn F
}

// add registers fn and returns a function that removes exactly this
// registration. Calling it more than once has no further effect.
func (r *registry[F]) add(fn F) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, registration[F]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *registry[F]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the current callbacks so they can be invoked without
// holding the lock.
func (r *registry[F]) snapshot() []F {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]F, len(r.entries))
	for i, e := range r.entries {
		fns[i] = e.fn
	}
	return fns
}

func (r *registry[F]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry[F]) clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
