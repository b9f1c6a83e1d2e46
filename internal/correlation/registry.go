// Package correlation pairs waiting requests with the availability notification of their result.
package correlation

import (
	"sync"

	"emperror.dev/errors"
)

var ErrDuplicate = errors.NewPlain("correlation id already registered")

// Waiter is a one-shot signal of a single correlation id
type Waiter struct {
	ID    string
	ready chan struct{}
	once  sync.Once
}

// Ready is closed when the result of the id is announced
func (w *Waiter) Ready() <-chan struct{} {
	return w.ready
}

func (w *Waiter) fire() {
	w.once.Do(func() { close(w.ready) })
}

type Registry struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

func NewRegistry() *Registry {
	return &Registry{waiters: map[string]*Waiter{}}
}

// Register creates the waiter of id; it must happen before the request is routed
func (r *Registry) Register(id string) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, has := r.waiters[id]; has {
		return nil, errors.WithDetails(ErrDuplicate, "id", id)
	}
	w := &Waiter{ID: id, ready: make(chan struct{})}
	r.waiters[id] = w

	return w, nil
}

// Notify fires the waiter of id. Unknown ids are ignored, it returns false for them.
func (r *Registry) Notify(id string) bool {
	r.mu.Lock()
	w, has := r.waiters[id]
	r.mu.Unlock()
	if !has {
		return false
	}
	w.fire()

	return true
}

// Release removes the waiter of id
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.waiters, id)
}

// Pending is the number of registered waiters
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.waiters)
}
