package rxv6

import (
	"errors"
	"fmt"
)

// Resource exhaustion. Callers may recover from these.
var (
	ErrNoProc    = errors.New("no free process slot")
	ErrNoMem     = errors.New("out of physical memory")
	ErrNotMapped = errors.New("virtual address not mapped")
)

// Fatal conditions. They travel inside a *Fault panic and stop the machine.
var (
	ErrInvariant   = errors.New("kernel invariant violated")
	ErrUnsupported = errors.New("not implemented")
	ErrUserFault   = errors.New("unexpected user trap")
	ErrHalted      = errors.New("machine halted")
)

// Fault describes why a hart stopped.
type Fault struct {
	Hart int
	PID  int
	Err  error
}

func (f *Fault) Error() string {
	if f.PID > 0 {
		return fmt.Sprintf("hart %d, pid %d: %v", f.Hart, f.PID, f.Err)
	}
	return fmt.Sprintf("hart %d: %v", f.Hart, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// kpanic stops the calling hart. The fault is picked up by the halt handler
// at the root of the running thread.
func kpanic(t *Thread, err error, format string, args ...interface{}) {
	f := &Fault{Hart: -1, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
	if t != nil {
		if h := t.Hart(); h != nil {
			f.Hart = h.ID
		}
		if p := t.proc; p != nil {
			f.PID = p.pid
		}
	}
	panic(f)
}
