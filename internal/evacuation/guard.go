package evacuation

import "sync/atomic"

// Guard is a process-wide single-flight gate for refresh cycles. It is a
// constructed dependency rather than package state so tests and mains both
// control its scope explicitly.
type Guard struct {
	running atomic.Bool
}

// NewGuard returns a released guard.
func NewGuard() *Guard {
	return &Guard{}
}

// TryAcquire claims the guard, returning false when a cycle already holds it.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release returns the guard to idle.
func (g *Guard) Release() {
	g.running.Store(false)
}
