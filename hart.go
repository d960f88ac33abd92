package rxv6

import (
	"context"
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Hart is one simulated RISC-V hardware thread: its supervisor CSRs, the
// general register file, and its slice of the CLINT timer.
//
// A hart has no lock. Only the kernel thread currently running on it may
// touch it; ownership moves with swtch.
type Hart struct {
	ID int

	mode Mode
	// sstatus
	sie  bool
	spie bool
	spp  Mode

	sepc   uint64
	scause Cause
	stval  uint64
	stvec  uint64
	satp   uint64
	sip    uint64

	regs [32]uint64
	pc   uint64
	npc  uint64

	// CLINT: mtime advances once per retired user instruction and once
	// per idle scheduler pass.
	mtime    uint64
	mtimecmp uint64
	interval uint64
	limiter  *rate.Limiter
	clock    context.Context

	thread *Thread
	text   *Text
	mem    *Memory
	kalloc *Kalloc
}

func newHart(id int, cfg Config, text *Text, mem *Memory, ka *Kalloc) *Hart {
	h := &Hart{
		ID:       id,
		mode:     ModeSupervisor,
		spp:      ModeSupervisor,
		interval: cfg.Timeslice,
		mtimecmp: cfg.Timeslice,
		clock:    context.Background(),
		text:     text,
		mem:      mem,
		kalloc:   ka,
	}
	if cfg.TicksPerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.TicksPerSecond), 1)
	}
	return h
}

// IntrOn enables device interrupts. A pending interrupt is taken at once.
func (h *Hart) IntrOn() {
	h.sie = true
	h.checkInterrupts()
}

// IntrOff disables device interrupts.
func (h *Hart) IntrOff() { h.sie = false }

// IntrGet reports whether device interrupts are enabled.
func (h *Hart) IntrGet() bool { return h.sie }

// Mode is the current privilege level.
func (h *Hart) Mode() Mode { return h.mode }

// Raise sets bits in sip, making interrupts pending.
func (h *Hart) Raise(bits uint64) { h.sip |= bits }

// Pending returns sip.
func (h *Hart) Pending() uint64 { return h.sip }

// Reg reads a general purpose register.
func (h *Hart) Reg(r int) uint64 {
	if r == RegZero {
		return 0
	}
	return h.regs[r]
}

// SetReg writes a general purpose register.
func (h *Hart) SetReg(r int, v uint64) {
	if r != RegZero {
		h.regs[r] = v
	}
}

// PC is the address of the instruction being executed.
func (h *Hart) PC() uint64 { return h.pc }

// Jump makes the current instruction branch to target.
func (h *Hart) Jump(target uint64) { h.npc = target }

// Ticks is the hart's mtime.
func (h *Hart) Ticks() uint64 { return h.mtime }

const (
	sstatusSIE  = uint64(1) << 1
	sstatusSPIE = uint64(1) << 5
	sstatusSPP  = uint64(1) << 8
)

// Sstatus packs the modelled sstatus bits.
func (h *Hart) Sstatus() uint64 {
	var s uint64
	if h.sie {
		s |= sstatusSIE
	}
	if h.spie {
		s |= sstatusSPIE
	}
	if h.spp == ModeSupervisor {
		s |= sstatusSPP
	}
	return s
}

func (h *Hart) setSstatus(s uint64) {
	h.sie = s&sstatusSIE != 0
	h.spie = s&sstatusSPIE != 0
	h.spp = ModeUser
	if s&sstatusSPP != 0 {
		h.spp = ModeSupervisor
	}
}

// pendingInterrupt picks the highest priority deliverable interrupt.
// Supervisor interrupts are always enabled in user mode.
func (h *Hart) pendingInterrupt() (Cause, bool) {
	if h.mode == ModeSupervisor && !h.sie {
		return 0, false
	}
	switch {
	case h.sip&SIP_SEIP != 0:
		return IntSupervisorExternal, true
	case h.sip&SIP_SSIP != 0:
		return IntSupervisorSoft, true
	case h.sip&SIP_STIP != 0:
		return IntSupervisorTimer, true
	}
	return 0, false
}

func (h *Hart) checkInterrupts() bool {
	cause, ok := h.pendingInterrupt()
	if !ok {
		return false
	}
	h.trap(cause, 0)
	return true
}

// trap performs the hardware side of a trap into supervisor mode and
// jumps to stvec.
func (h *Hart) trap(cause Cause, tval uint64) {
	h.scause = cause
	h.stval = tval
	h.sepc = h.pc
	h.spp = h.mode
	h.spie = h.sie
	h.sie = false
	h.mode = ModeSupervisor
	h.pc = h.stvec

	vec, ok := h.text.Resolve(h.stvec)
	if !ok {
		kpanic(h.thread, ErrInvariant, "trap %v: no handler at stvec %#x", cause, h.stvec)
	}
	vec(h.thread)
}

// sret returns from a trap to the privilege level in sstatus.SPP.
func (h *Hart) sret() {
	h.mode = h.spp
	h.sie = h.spie
	h.spie = true
	h.spp = ModeUser
	h.pc = h.sepc
	if h.mode == ModeSupervisor {
		h.checkInterrupts()
	}
}

// runUser executes user instructions until something traps back into
// supervisor mode.
func (h *Hart) runUser() {
	for h.mode == ModeUser {
		if h.checkInterrupts() {
			return
		}
		h.execute()
	}
}

// execute fetches and runs one user instruction.
func (h *Hart) execute() {
	pt := pageTableAt(h.mem, h.kalloc, satpRoot(h.satp))
	pte, ok := pt.Lookup(h.pc)
	if !ok || pte&PTE_U == 0 || pte&PTE_X == 0 {
		h.trap(ExcInstructionPageFault, h.pc)
		return
	}
	prog := h.mem.Program(PTE2PA(pte))
	if prog == nil {
		h.trap(ExcIllegalInstruction, h.pc)
		return
	}
	h.npc = h.pc + 4
	if exc, trapped := prog(h); trapped {
		h.trap(exc, h.pc)
		return
	}
	h.pc = h.npc
	h.tick()
}

// tick advances mtime. When the compare value is reached the machine-mode
// timer handler schedules the next tick and raises a supervisor software
// interrupt, which is how the kernel learns its time slice is over.
func (h *Hart) tick() {
	if h.limiter != nil {
		if err := h.limiter.Wait(h.clock); err != nil {
			// the clock was stopped: force a trap so the kernel notices.
			h.sip |= SIP_SSIP
			return
		}
	}
	h.mtime++
	if h.mtime >= h.mtimecmp {
		h.mtimecmp = h.mtime + h.interval
		h.sip |= SIP_SSIP
	}
}

// idle is called by a scheduler pass that found nothing to run.
func (h *Hart) idle() {
	h.tick()
	if h.limiter == nil {
		runtime.Gosched()
	}
}

// saveRegs stores the user register file into a trap frame.
func (h *Hart) saveRegs(tf *TrapFrame) {
	for r := RegRA; r <= RegT6; r++ {
		*tf.reg(r) = h.regs[r]
	}
}

// loadRegs restores the user register file from a trap frame.
func (h *Hart) loadRegs(tf *TrapFrame) {
	for r := RegRA; r <= RegT6; r++ {
		h.regs[r] = *tf.reg(r)
	}
}

func (h *Hart) String() string {
	return fmt.Sprintf("hart%d(%v)", h.ID, h.mode)
}

func (h *Hart) logger() *log.Entry {
	return log.WithField("hart", h.ID)
}
