package rxv6

import (
	"runtime"
	"sync/atomic"
)

// yieldFn runs between failed attempts to claim a spin lock. Every hart is
// a goroutine, so the spinner has to let the holder make progress.
var yieldFn = runtime.Gosched

// SpinLock is a mutual-exclusion lock that disables interrupts on the
// acquiring hart for as long as it is held. Nesting is tracked per hart in
// the CPU record, so the interrupt state in effect before the outermost
// Acquire is what the last Release restores.
//
// A SpinLock must be created with NewSpinLock.
type SpinLock struct {
	name   string
	locked atomic.Bool
	hart   atomic.Int32 // holder, for debugging; -1 when free
	cpus   *CPUs
}

// NewSpinLock returns an unlocked lock whose nesting is accounted in cpus.
func NewSpinLock(name string, cpus *CPUs) *SpinLock {
	l := &SpinLock{name: name, cpus: cpus}
	l.hart.Store(-1)
	return l
}

// Acquire spins until the lock is claimed. Interrupts stay off on the
// calling hart until the matching Release.
func (l *SpinLock) Acquire(t *Thread) {
	l.cpus.pushOff(t)
	if l.Holding(t) {
		kpanic(t, ErrInvariant, "acquire %s: already held by this hart", l.name)
	}
	for !l.locked.CompareAndSwap(false, true) {
		if l.cpus.stopped() {
			// the holder may be gone with the halted machine.
			runtime.Goexit()
		}
		yieldFn()
	}
	l.hart.Store(int32(t.Hart().ID))
}

// Release frees the lock and, if this was the outermost lock on the hart,
// restores the interrupt state saved by the outermost Acquire.
func (l *SpinLock) Release(t *Thread) {
	if !l.Holding(t) {
		kpanic(t, ErrInvariant, "release %s: not held by this hart", l.name)
	}
	l.hart.Store(-1)
	l.locked.Store(false)
	l.cpus.popOff(t)
}

// Holding reports whether the calling hart holds the lock. Interrupts must
// be off.
func (l *SpinLock) Holding(t *Thread) bool {
	return l.locked.Load() && l.hart.Load() == int32(t.Hart().ID)
}

// Locked is a value that can only be reached through its lock.
type Locked[T any] struct {
	lock *SpinLock
	v    T
}

// NewLocked wraps v behind a new spin lock.
func NewLocked[T any](name string, cpus *CPUs, v T) *Locked[T] {
	return &Locked[T]{lock: NewSpinLock(name, cpus), v: v}
}

// Lock acquires the lock and returns the capability to use the value.
func (l *Locked[T]) Lock(t *Thread) *Guard[T] {
	l.lock.Acquire(t)
	return &Guard[T]{l: l, t: t}
}

// Guard is proof that the holder owns a Locked value.
type Guard[T any] struct {
	l *Locked[T]
	t *Thread
}

// Get returns the protected value. The pointer must not outlive Unlock.
func (g *Guard[T]) Get() *T {
	if g.l == nil {
		kpanic(g.t, ErrInvariant, "use of released guard")
	}
	return &g.l.v
}

// Unlock releases the lock. The guard is dead afterwards.
func (g *Guard[T]) Unlock() {
	if g.l == nil {
		kpanic(g.t, ErrInvariant, "double unlock")
	}
	l := g.l
	g.l = nil
	l.lock.Release(g.t)
}
