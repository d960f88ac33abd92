package rxv6

import "unsafe"

// The trampoline page is mapped at the same virtual address, TRAMPOLINE,
// in the kernel and every user page table, so the switch of satp in the
// middle of it does not pull the instructions out from under the hart.

// uservec is where traps from user space land: stvec points here while the
// hart is in user mode. It saves the user registers in the trap frame,
// loads the kernel stack pointer, hart id and page table that usertrapret
// left there, and jumps to kernel_trap.
func (k *Kernel) uservec(t *Thread) {
	h := t.Hart()
	tf := k.userTrapFrame(t, h)
	h.saveRegs(tf)

	h.SetReg(RegSP, tf.KernelSP)
	h.SetReg(RegTP, tf.KernelHartID)
	h.satp = tf.KernelSatp
	h.pc = tf.KernelTrap
}

// userret switches to the user page table in a0, restores the user
// registers from the trap frame and returns to user mode. It comes back
// when the user program traps.
func (k *Kernel) userret(t *Thread) {
	h := t.Hart()
	h.satp = h.Reg(RegA0)
	tf := k.userTrapFrame(t, h)
	h.loadRegs(tf)
	h.sret()
	h.runUser()
}

// userTrapFrame finds the trap frame through the page table currently in
// satp, the way the trampoline reaches it at TRAPFRAME.
func (k *Kernel) userTrapFrame(t *Thread, h *Hart) *TrapFrame {
	pa, ok := pageTableAt(k.mem, k.kalloc, satpRoot(h.satp)).Translate(TRAPFRAME)
	if !ok {
		kpanic(t, ErrInvariant, "trampoline: trap frame not mapped in satp %#x", h.satp)
	}
	return (*TrapFrame)(unsafe.Pointer(k.mem.Page(pa)))
}
