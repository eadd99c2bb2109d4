// Package singleton implements a generic check-lock-recheck lazy singleton
// (§4.9, §9) used for process-wide shared resources; cmd/audiostreamd uses
// it for the pgx pool. Teardown is an explicit, idempotent
// Close() called once at process shutdown.
package singleton

import "sync"

// Lazy holds a single value created on first access via a user-supplied
// factory, and released exactly once via Close.
type Lazy[T any] struct {
	mu      sync.Mutex
	once    sync.Once
	value   T
	err     error
	closed  bool
	ready   bool
	factory func() (T, error)
	closer  func(T) error
}

// New returns a Lazy that calls factory the first time Get is called, and
// calls closer (if non-nil) the first time Close is called.
func New[T any](factory func() (T, error), closer func(T) error) *Lazy[T] {
	return &Lazy[T]{factory: factory, closer: closer}
}

// Get returns the singleton value, initialising it on first call. Safe for
// concurrent use; initialisation happens exactly once even under
// concurrent first-access ("check, lock, re-check").
func (l *Lazy[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.once.Do(func() {
		l.value, l.err = l.factory()
		l.ready = l.err == nil
	})
	return l.value, l.err
}

// Close releases the underlying resource exactly once. Calling Close before
// Get has ever succeeded is a no-op. Idempotent: repeated calls return nil.
func (l *Lazy[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.closer == nil || !l.ready {
		l.closed = true
		return nil
	}
	l.closed = true
	return l.closer(l.value)
}
