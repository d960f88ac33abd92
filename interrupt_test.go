package rxv6

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExternalInterruptInKernel(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	th := k.bootThread(0)
	h := th.Hart()

	h.Raise(SIP_SEIP)
	err := catchFault(h.IntrOn)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("external interrupt: fault = %v, want %v", err, ErrUnsupported)
	}
	var f *Fault
	if errors.As(err, &f) && f.Hart != 0 {
		t.Errorf("fault on hart %d, want 0", f.Hart)
	}
}

func TestExternalInterruptFromUser(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())

	raise := func(h *Hart) (Cause, bool) {
		h.Raise(SIP_SEIP)
		return 0, false
	}
	err := bootWithTimeout(t, k, &Image{Name: "irq", Run: Assemble(raise, J(userText))})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Boot = %v, want %v", err, ErrUnsupported)
	}
}

func TestSoftwareInterruptInScheduler(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	th := k.bootThread(0)
	h := th.Hart()

	h.Raise(SIP_SSIP)
	h.IntrOn()

	if h.Pending()&SIP_SSIP != 0 {
		t.Error("SSIP still pending")
	}
	if !h.IntrGet() {
		t.Error("interrupts off after returning from the trap")
	}
	if h.Mode() != ModeSupervisor {
		t.Errorf("mode = %v after sret", h.Mode())
	}
	if got := k.Ticks(); got != 1 {
		t.Errorf("ticks = %d, want 1", got)
	}
}

// napSyscalls adds a call that ends its own time slice from inside the
// kernel: SSIP is taken by kerneltrap when interrupts come on, the process
// yields, and the call finishes wherever it is resumed. The call returns
// a0+1.
func napSyscalls(t *testing.T, record func(string)) SyscallTable {
	tbl := DefaultSyscalls()
	tbl[SysSleep] = func(k *Kernel, th *Thread, p *Proc, tf *TrapFrame) uint64 {
		record(p.name + " naps")
		ticks := k.Ticks()
		th.Hart().Raise(SIP_SSIP)
		th.Hart().IntrOn()

		h := th.Hart()
		if k.Ticks() == ticks {
			t.Errorf("%s: no timer interrupt taken", p.name)
		}
		if h.Mode() != ModeSupervisor || !h.IntrGet() {
			t.Errorf("%s: back from kerneltrap in %v, interrupts %v", p.name, h.Mode(), h.IntrGet())
		}
		if slot := k.cpus.Pinned(h.ID); slot != p.slot {
			t.Errorf("%s: resumed on hart %d pinned to slot %d", p.name, h.ID, slot)
		}
		record(p.name + " wakes")
		return tf.Arg(0) + 1
	}
	return tbl
}

func napper(name string) *Image {
	return &Image{Name: name, Run: exitWithA0(
		Li(RegA0, 40),
		Li(RegA7, uint64(SysSleep)),
		Ecall(),
		Li(RegA7, uint64(SysSleep)),
		Ecall(),
	)}
}

func TestSoftwareInterruptInKernelYields(t *testing.T) {
	var order []string
	record := func(s string) { order = append(order, s) }

	k, _ := newTestKernel(t, testConfig(), WithSyscalls(napSyscalls(t, record)))
	b := &Image{Name: "b", Run: exitWithA0(
		func(h *Hart) (Cause, bool) {
			record("b runs")
			return 0, false
		},
		Li(RegA0, 0),
	)}
	if err := bootWithTimeout(t, k, napper("a"), b); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	// one hart: b runs while a is off the hart.
	want := []string{"a naps", "b runs", "a wakes", "a naps", "a wakes"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("run order (-want +got):\n%s", diff)
	}
	if got := k.procs[0].xstate; got != 42 {
		t.Errorf("status = %d, want 42", got)
	}
	if got := k.Ticks(); got != 2 {
		t.Errorf("ticks = %d, want 2", got)
	}
}

func TestSoftwareInterruptInKernelManyHarts(t *testing.T) {
	var mu sync.Mutex
	naps := 0
	record := func(string) {
		mu.Lock()
		defer mu.Unlock()
		naps++
	}

	cfg := testConfig()
	cfg.Harts = 2
	k, _ := newTestKernel(t, cfg, WithSyscalls(napSyscalls(t, record)))
	if err := bootWithTimeout(t, k, napper("a"), napper("b")); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	for _, slot := range []int{0, 1} {
		if got := k.procs[slot].xstate; got != 42 {
			t.Errorf("slot %d: status = %d, want 42", slot, got)
		}
	}
	if naps != 8 {
		t.Errorf("%d nap records, want 8", naps)
	}
	if got := k.Ticks(); got < 4 {
		t.Errorf("ticks = %d, want at least 4", got)
	}
}

func TestTimerInterruptIgnoredWhileMasked(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	h := k.bootThread(0).Hart()

	h.Raise(SIP_SSIP)
	if h.checkInterrupts() {
		t.Fatal("interrupt taken with sie clear")
	}
	if k.Ticks() != 0 {
		t.Errorf("ticks = %d", k.Ticks())
	}
}

func TestKerneltrapChecks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *Hart)
		want  error
	}{
		{
			name: "from user mode",
			setup: func(h *Hart) {
				h.scause = IntSupervisorSoft
				h.spp = ModeUser
			},
			want: ErrInvariant,
		},
		{
			name: "interrupts enabled",
			setup: func(h *Hart) {
				h.scause = IntSupervisorSoft
				h.spp = ModeSupervisor
				h.sie = true
			},
			want: ErrInvariant,
		},
		{
			name: "exception in kernel",
			setup: func(h *Hart) {
				h.scause = ExcLoadPageFault
				h.spp = ModeSupervisor
			},
			want: ErrInvariant,
		},
		{
			name: "timer interrupt",
			setup: func(h *Hart) {
				h.scause = IntSupervisorTimer
				h.spp = ModeSupervisor
			},
			want: ErrInvariant,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, _ := newTestKernel(t, testConfig())
			th := k.bootThread(0)
			tc.setup(th.Hart())

			if err := catchFault(func() { k.kerneltrap(th) }); !errors.Is(err, tc.want) {
				t.Errorf("fault = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestUserExceptions(t *testing.T) {
	tests := []struct {
		name string
		run  Program
	}{
		{name: "breakpoint", run: Assemble(Ebreak())},
		{name: "illegal instruction", run: Assemble(Nop())},
		{name: "jump to unmapped", run: Assemble(J(0x10000))},
		{name: "jump to stack page", run: Assemble(J(userStack))},
		{name: "misaligned", run: Assemble(J(2))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k, _ := newTestKernel(t, testConfig())
			err := bootWithTimeout(t, k, &Image{Name: tc.name, Run: tc.run})
			if !errors.Is(err, ErrUserFault) {
				t.Errorf("Boot = %v, want %v", err, ErrUserFault)
			}
		})
	}
}

func TestUsertrapretFillsTrapFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Harts = 2
	cfg.Timeslice = 1
	k, _ := newTestKernel(t, cfg)
	th := k.bootThread(1)

	slot, err := k.Spawn(th, Spin("spin"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	k.Sweep(th)

	p := k.procs[slot]
	tf := k.trapframe(p)
	if tf.KernelSatp != k.kpt.SATP() {
		t.Errorf("kernel_satp = %#x, want %#x", tf.KernelSatp, k.kpt.SATP())
	}
	if tf.KernelSP != p.kstack+PGSIZE {
		t.Errorf("kernel_sp = %#x, want %#x", tf.KernelSP, p.kstack+PGSIZE)
	}
	if got := k.text.Name(tf.KernelTrap); got != symUsertrap {
		t.Errorf("kernel_trap = %s, want usertrap", got)
	}
	if tf.KernelHartID != 1 {
		t.Errorf("kernel_hartid = %d, want 1", tf.KernelHartID)
	}
	// the spin loop is one jump at address zero
	if tf.Epc != userText {
		t.Errorf("epc = %#x, want %#x", tf.Epc, userText)
	}
	if h := k.Hart(1); h.stvec != k.text.Addr(symKernelvec) || h.satp != k.kpt.SATP() {
		t.Errorf("hart back in the kernel with stvec %s satp %#x", k.text.Name(h.stvec), h.satp)
	}
}
