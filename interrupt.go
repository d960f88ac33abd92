package rxv6

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// trapinithart sets up the hart to take kernel traps: stvec points at
// kernelvec, paging is on with the kernel page table.
func (k *Kernel) trapinithart(h *Hart) {
	h.stvec = k.text.Addr(symKernelvec)
	h.satp = k.kpt.SATP()
}

// kernelvec is where traps taken in supervisor mode arrive. It runs
// kerneltrap on the interrupted thread's stack and returns to whatever was
// interrupted.
func (k *Kernel) kernelvec(t *Thread) {
	k.kerneltrap(t)
	t.Hart().sret()
}

// kerneltrap handles interrupts and exceptions from kernel code. The only
// one expected is the software interrupt that ends a time slice.
func (k *Kernel) kerneltrap(t *Thread) {
	h := t.Hart()
	sepc := h.sepc
	sstatus := h.Sstatus()

	if h.spp != ModeSupervisor {
		kpanic(t, ErrInvariant, "kerneltrap: not from supervisor mode")
	}
	if h.IntrGet() {
		kpanic(t, ErrInvariant, "kerneltrap: interrupts enabled")
	}

	if cause := k.devintr(t); cause != IntSupervisorSoft {
		kpanic(t, ErrInvariant, "kerneltrap: %v sepc=%#x stval=%#x", cause, h.sepc, h.stval)
	}
	// give up the CPU if this is a timer interrupt.
	if k.myproc(t) != nil {
		k.Step(t)
	}

	// Step may have let other traps happen, and this thread may be on
	// another hart now; restore trap registers for kernelvec's sret.
	h = t.Hart()
	h.sepc = sepc
	h.setSstatus(sstatus)
}

// devintr checks whether the trap is an interrupt it knows how to handle.
// Software interrupts are acknowledged and reported; anything else
// halts the machine. Exceptions are returned to the caller.
func (k *Kernel) devintr(t *Thread) Cause {
	h := t.Hart()
	cause := h.scause
	switch {
	case cause == IntSupervisorSoft:
		// Software interrupt from the machine-mode timer. Acknowledge it
		// by clearing SSIP.
		h.sip &^= SIP_SSIP
		k.ticks.Add(1)
		return cause
	case cause == IntSupervisorExternal:
		kpanic(t, ErrUnsupported, "devintr: supervisor external interrupt")
	case cause.IsInterrupt():
		kpanic(t, ErrInvariant, "devintr: unexpected %v", cause)
	}
	return cause
}

// usertrap handles an interrupt, exception, or system call from user
// space. The trampoline jumps here.
func (k *Kernel) usertrap(t *Thread) {
	h := t.Hart()
	if h.spp != ModeUser {
		kpanic(t, ErrInvariant, "usertrap: not from user mode")
	}

	// send interrupts and exceptions to kerneltrap(), since we're now in
	// the kernel.
	h.stvec = k.text.Addr(symKernelvec)

	p := k.myproc(t)
	if p == nil {
		kpanic(t, ErrInvariant, "usertrap: no process on this hart")
	}
	tf := k.trapframe(p)
	// save user program counter.
	tf.Epc = h.sepc

	switch cause := h.scause; {
	case cause == ExcEcallU:
		// sepc points to the ecall instruction, but we want to return to
		// the next instruction.
		tf.Epc += 4
		// an interrupt will change sepc, scause, and sstatus, so enable
		// only now that we're done with those registers.
		h.IntrOn()
		k.syscall(t, p, tf)
	case cause.IsInterrupt():
		k.devintr(t)
		// give up the CPU if this is a timer interrupt.
		k.Step(t)
	default:
		log.WithFields(log.Fields{
			"pid":    p.pid,
			"scause": cause,
			"sepc":   fmt.Sprintf("%#x", h.sepc),
			"stval":  fmt.Sprintf("%#x", h.stval),
		}).Error("[TRAP] unexpected user trap")
		kpanic(t, ErrUserFault, "usertrap: %v sepc=%#x stval=%#x", cause, h.sepc, h.stval)
	}
}

// usertrapret returns to user space through the trampoline.
func (k *Kernel) usertrapret(t *Thread) {
	p := k.myproc(t)
	h := t.Hart()

	// we're about to switch the destination of traps from kerneltrap() to
	// usertrap(), so turn off interrupts until we're back in user space,
	// where usertrap() is correct.
	h.IntrOff()

	// send syscalls, interrupts, and exceptions to uservec in the
	// trampoline.
	h.stvec = k.text.Addr(symUservec)

	// set up trapframe values that uservec will need when the process
	// next traps into the kernel.
	tf := k.trapframe(p)
	tf.KernelSatp = h.satp
	tf.KernelSP = p.kstack + PGSIZE
	tf.KernelTrap = k.text.Addr(symUsertrap)
	tf.KernelHartID = uint64(h.ID)

	// set up the registers that the trampoline's sret will use to get to
	// user space: SPP clear for user mode, SPIE set so interrupts are on
	// once there.
	h.spp = ModeUser
	h.spie = true

	// set sepc to the saved user pc.
	h.sepc = tf.Epc

	// tell userret the user page table to switch to, and jump to it.
	h.SetReg(RegA0, MakeSATP(p.pagetable.Root()))
	userret, ok := k.text.Resolve(TRAMPOLINE + userretOffset)
	if !ok {
		kpanic(t, ErrInvariant, "usertrapret: trampoline not mapped")
	}
	userret(t)
}

// forkret is where a new process's kernel thread starts. The scheduler
// switched here while holding the process's lock.
func (k *Kernel) forkret(t *Thread) {
	k.procs[t.proc.slot].lock.Release(t)
	k.userloop(t)
}

// userloop is the rest of a process's kernel thread: each pass returns to
// user space, and the trampoline's jump on the way back in lands on the
// kernel trap routine recorded in the trap frame.
func (k *Kernel) userloop(t *Thread) {
	for {
		k.usertrapret(t)
		h := t.Hart()
		entry, ok := k.text.Resolve(h.pc)
		if !ok {
			kpanic(t, ErrInvariant, "uservec jumped to %#x", h.pc)
		}
		entry(t)
	}
}
