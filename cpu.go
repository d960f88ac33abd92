package rxv6

import (
	"sync/atomic"
)

// CPU is the per-hart record.
//
// Only the thread running on the hart, with interrupts off, may change a
// CPU. Other harts may read pinned, which is atomic for that purpose.
type CPU struct {
	// Scheduler is the hart's scheduler thread; swtch here to enter the
	// scheduler loop.
	Scheduler Thread

	pinned atomic.Int32 // process table slot running on this hart, or -1
	noff   int          // depth of pushOff nesting
	intena bool         // were interrupts enabled before the outermost pushOff?
}

// Proc returns the slot of the process this hart is running.
func (c *CPU) Proc() (int, bool) {
	slot := c.pinned.Load()
	return int(slot), slot >= 0
}

// Depth returns the lock nesting depth.
func (c *CPU) Depth() int { return c.noff }

// CPUSnapshot is a copy of a CPU record.
type CPUSnapshot struct {
	Hart   int
	Pinned int
	Depth  int
	Intena bool
}

// CPUs is the per-CPU registry, indexed by hart id. It has no lock: a
// record belongs to its hart, and is only touched with that hart's
// interrupts off.
type CPUs struct {
	cpus   []CPU
	halted <-chan struct{}
}

func newCPUs(n int, halted <-chan struct{}) *CPUs {
	c := &CPUs{cpus: make([]CPU, n), halted: halted}
	for i := range c.cpus {
		c.cpus[i].pinned.Store(-1)
		c.cpus[i].Scheduler.init("scheduler", nil)
	}
	return c
}

// stopped reports whether the machine has halted.
func (c *CPUs) stopped() bool {
	select {
	case <-c.halted:
		return true
	default:
		return false
	}
}

// Len is the number of harts.
func (c *CPUs) Len() int { return len(c.cpus) }

// Mine returns the calling hart's record. Interrupts must be disabled,
// otherwise the thread could be moved to another hart while using it.
func (c *CPUs) Mine(t *Thread) *CPU {
	h := t.Hart()
	if h.IntrGet() {
		kpanic(t, ErrInvariant, "mycpu: interrupts enabled")
	}
	return &c.cpus[h.ID]
}

// Current returns a copy of the calling hart's record.
func (c *CPUs) Current(t *Thread) CPUSnapshot {
	c.pushOff(t)
	cpu := c.Mine(t)
	s := CPUSnapshot{
		Hart:   t.Hart().ID,
		Pinned: int(cpu.pinned.Load()),
		Depth:  cpu.noff - 1,
		Intena: cpu.intena,
	}
	c.popOff(t)
	return s
}

// Pinned returns the slot running on hart id, or -1. Safe from any hart.
func (c *CPUs) Pinned(id int) int {
	return int(c.cpus[id].pinned.Load())
}

// pin records that this hart now runs slot. No other hart may be running
// it.
func (c *CPUs) pin(t *Thread, slot int) {
	cpu := c.Mine(t)
	if cpu.pinned.Load() != -1 {
		kpanic(t, ErrInvariant, "scheduler: hart already runs slot %d", cpu.pinned.Load())
	}
	for i := range c.cpus {
		if other := &c.cpus[i]; other != cpu && int(other.pinned.Load()) == slot {
			kpanic(t, ErrInvariant, "scheduler: slot %d already running on hart %d", slot, i)
		}
	}
	cpu.pinned.Store(int32(slot))
}

func (c *CPUs) unpin(t *Thread) {
	c.Mine(t).pinned.Store(-1)
}

// pushOff is like IntrOff but matched: it takes two popOff calls to undo
// two pushOff calls. If interrupts were initially off, pushOff, popOff
// leaves them off.
func (c *CPUs) pushOff(t *Thread) {
	h := t.Hart()
	old := h.IntrGet()
	h.IntrOff()
	cpu := c.Mine(t)
	if cpu.noff == 0 {
		cpu.intena = old
	}
	cpu.noff++
}

func (c *CPUs) popOff(t *Thread) {
	h := t.Hart()
	cpu := c.Mine(t)
	if cpu.noff < 1 {
		kpanic(t, ErrInvariant, "pop_off: unbalanced")
	}
	cpu.noff--
	if cpu.noff == 0 && cpu.intena {
		h.IntrOn()
	}
}
