package fiber

import "sync"

// Scope is a LIFO finalizer scope implementing stm.Scope: finalizers run in
// the reverse of their registration order, exactly once, when Close is
// called — the structured-scope collaborator spec.md §6 describes
// ("add_finalizer(scope, action) with guaranteed exactly-once execution on
// scope exit (ordered LIFO with peer finalizers)").
type Scope struct {
	mu         sync.Mutex
	finalizers []func()
	released   bool
}

// NewScope constructs an open Scope.
func NewScope() *Scope { return &Scope{} }

// AddFinalizer implements stm.Scope. If the scope has already been closed,
// action runs immediately (a resource acquired after scope exit has
// nothing to wait for).
func (s *Scope) AddFinalizer(action func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		action()
		return
	}
	s.finalizers = append(s.finalizers, action)
	s.mu.Unlock()
}

// Close releases the scope, running every registered finalizer exactly
// once in LIFO order. Safe to call more than once; only the first call has
// an effect.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	fins := s.finalizers
	s.finalizers = nil
	s.mu.Unlock()

	for i := len(fins) - 1; i >= 0; i-- {
		fins[i]()
	}
}
