package rxv6

import (
	"fmt"
	"reflect"
	"unsafe"

	log "github.com/sirupsen/logrus"
)

// ProcState is the scheduling state of a process table slot.
type ProcState int

const (
	Unused ProcState = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

var procStateNames = [...]string{
	Unused:   "unused",
	Used:     "used",
	Sleeping: "sleep",
	Runnable: "runble",
	Running:  "run",
	Zombie:   "zombie",
}

func (s ProcState) String() string {
	if s < 0 || int(s) >= len(procStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return procStateNames[s]
}

// procTransitions lists every legal state change. Slots are never
// recycled, so nothing leaves Zombie.
var procTransitions = map[ProcState][]ProcState{
	Unused:   {Used},
	Used:     {Runnable},
	Runnable: {Running},
	Running:  {Runnable, Zombie},
}

// CanTransition reports whether a process may move from one state to
// another.
func CanTransition(from, to ProcState) bool {
	for _, s := range procTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TrapFrame is the per-process data for the trampoline. It sits in a page
// by itself just under the trampoline page in the user page table.
// uservec saves user registers in the trap frame, then initializes
// registers from kernel_sp, kernel_hartid and kernel_satp and jumps to
// kernel_trap. usertrapret and userret set up the kernel_* fields, restore
// user registers from the trap frame, switch to the user page table, and
// enter user space.
//
// The field order is the trampoline's ABI and must not change.
type TrapFrame struct {
	/*   0 */ KernelSatp uint64 // kernel page table
	/*   8 */ KernelSP uint64 // top of process's kernel stack
	/*  16 */ KernelTrap uint64 // usertrap()
	/*  24 */ Epc uint64 // saved user program counter
	/*  32 */ KernelHartID uint64 // saved kernel tp
	/*  40 */ RA uint64
	/*  48 */ SP uint64
	/*  56 */ GP uint64
	/*  64 */ TP uint64
	/*  72 */ T0 uint64
	/*  80 */ T1 uint64
	/*  88 */ T2 uint64
	/*  96 */ S0 uint64
	/* 104 */ S1 uint64
	/* 112 */ A0 uint64
	/* 120 */ A1 uint64
	/* 128 */ A2 uint64
	/* 136 */ A3 uint64
	/* 144 */ A4 uint64
	/* 152 */ A5 uint64
	/* 160 */ A6 uint64
	/* 168 */ A7 uint64
	/* 176 */ S2 uint64
	/* 184 */ S3 uint64
	/* 192 */ S4 uint64
	/* 200 */ S5 uint64
	/* 208 */ S6 uint64
	/* 216 */ S7 uint64
	/* 224 */ S8 uint64
	/* 232 */ S9 uint64
	/* 240 */ S10 uint64
	/* 248 */ S11 uint64
	/* 256 */ T3 uint64
	/* 264 */ T4 uint64
	/* 272 */ T5 uint64
	/* 280 */ T6 uint64
}

// trapFrameRegBase is the offset of ra, the first saved register.
const trapFrameRegBase = unsafe.Offsetof(TrapFrame{}.RA)

// reg returns the slot holding general purpose register r (ra..t6). The
// saved registers follow kernel_hartid in register-number order.
func (tf *TrapFrame) reg(r int) *uint64 {
	if r < RegRA || r > RegT6 {
		panic(fmt.Sprintf("trapframe: no slot for x%d", r))
	}
	off := trapFrameRegBase + uintptr(r-RegRA)*8
	return (*uint64)(unsafe.Add(unsafe.Pointer(tf), off))
}

// FrameSlot names one field of the trap frame and its byte offset.
type FrameSlot struct {
	Name   string
	Offset uintptr
}

// TrapFrameLayout lists the trap frame fields in memory order.
func TrapFrameLayout() []FrameSlot {
	typ := reflect.TypeOf(TrapFrame{})
	slots := make([]FrameSlot, typ.NumField())
	for i := range slots {
		f := typ.Field(i)
		slots[i] = FrameSlot{Name: f.Name, Offset: f.Offset}
	}
	return slots
}

// Arg returns system call argument n (a0..a5).
func (tf *TrapFrame) Arg(n int) uint64 {
	if n < 0 || n > 5 {
		panic(fmt.Sprintf("syscall argument %d", n))
	}
	return *tf.reg(RegA0 + n)
}

// Proc is a process table slot.
type Proc struct {
	lock *SpinLock

	// lock must be held when using these:
	state ProcState
	pid   int
	xstate int // exit status

	// private to the process, lock needn't be held:
	slot      int
	kstack    uint64 // virtual address of kernel stack
	thread    Thread // kernel thread; swtch here to run the process
	trapframe uint64 // physical page holding the TrapFrame
	pagetable *PageTable
	text      uint64 // physical page holding the user image
	stack     uint64 // physical page holding the user stack
	image     *Image
	name      string
}

// setState moves p along a legal edge of the state machine. p.lock must be
// held.
func (p *Proc) setState(t *Thread, to ProcState) {
	if !p.lock.Holding(t) {
		kpanic(t, ErrInvariant, "slot %d: state change without lock", p.slot)
	}
	if !CanTransition(p.state, to) {
		kpanic(t, ErrInvariant, "slot %d: illegal transition %v -> %v", p.slot, p.state, to)
	}
	p.state = to
}

// ProcSnapshot is a copy of a process slot for diagnostics.
type ProcSnapshot struct {
	Slot   int
	PID    int
	State  ProcState
	Name   string
	KStack uint64
}

// procinit sets every slot to Unused and gives it a kernel stack, mapped
// high in the kernel page table below the trampoline with an invalid guard
// page under each stack.
func (k *Kernel) procinit() error {
	k.procs = make([]*Proc, k.cfg.NProc)
	for i := range k.procs {
		p := &Proc{
			lock:   NewSpinLock(fmt.Sprintf("proc%d", i), k.cpus),
			state:  Unused,
			slot:   i,
			kstack: KSTACK(i),
		}
		pa, ok := k.kalloc.Alloc()
		if !ok {
			return fmt.Errorf("procinit: kernel stack %d: %w", i, ErrNoMem)
		}
		if err := k.kpt.Map(p.kstack, pa, PGSIZE, PTE_R|PTE_W); err != nil {
			return fmt.Errorf("procinit: %w", err)
		}
		p.thread.init(fmt.Sprintf("proc%d", i), p)
		k.procs[i] = p
	}
	return nil
}

func (k *Kernel) allocpid(t *Thread) int {
	g := k.nextpid.Lock(t)
	defer g.Unlock()
	pid := *g.Get()
	*g.Get() = pid + 1
	return pid
}

// Allocate looks in the process table for an Unused slot. If found, it
// initializes the state required to run in the kernel and returns the slot
// in the Used state. It returns ErrNoProc when the table is full and
// ErrNoMem when a page could not be had.
func (k *Kernel) Allocate(t *Thread) (int, error) {
	for i, p := range k.procs {
		p.lock.Acquire(t)
		if p.state != Unused {
			p.lock.Release(t)
			continue
		}
		err := k.setupProc(p)
		if err != nil {
			k.freeproc(p)
			p.lock.Release(t)
			return -1, err
		}
		p.pid = k.allocpid(t)
		p.setState(t, Used)
		p.lock.Release(t)

		log.WithFields(log.Fields{"slot": i, "pid": p.pid}).Debug("[PROC] allocated")
		return i, nil
	}
	return -1, ErrNoProc
}

// setupProc gives p a trap frame, a user page table with the trampoline
// and trap frame mapped, and a context that starts at forkret.
func (k *Kernel) setupProc(p *Proc) error {
	tf, ok := k.kalloc.Alloc()
	if !ok {
		return fmt.Errorf("allocproc: trapframe: %w", ErrNoMem)
	}
	p.trapframe = tf

	pt, err := CreatePageTable(k.mem, k.kalloc)
	if err != nil {
		return fmt.Errorf("allocproc: %w", err)
	}
	p.pagetable = pt
	// The trampoline is not PTE_U: only supervisor code runs it, on the
	// way into and out of user space.
	if err := pt.Map(TRAMPOLINE, trampolinePA, PGSIZE, PTE_R|PTE_X); err != nil {
		return fmt.Errorf("allocproc: %w", err)
	}
	if err := pt.Map(TRAPFRAME, tf, PGSIZE, PTE_R|PTE_W); err != nil {
		return fmt.Errorf("allocproc: %w", err)
	}

	p.thread.Context = Context{
		RA: k.text.Addr(symForkret),
		SP: p.kstack + PGSIZE,
	}
	p.thread.started = false
	p.thread.exiting = false
	return nil
}

// freeproc releases whatever setupProc managed to allocate.
func (k *Kernel) freeproc(p *Proc) {
	if p.pagetable != nil {
		p.pagetable.Free()
		p.pagetable = nil
	}
	if p.trapframe != 0 {
		k.kalloc.Free(p.trapframe)
		p.trapframe = 0
	}
}

// checkImage reports whether image fits the one page of text a process
// gets.
func checkImage(image *Image) error {
	if len(image.Data) > int(PGSIZE) {
		return fmt.Errorf("image of %d bytes exceeds one page", len(image.Data))
	}
	return nil
}

// Load installs image as the user program of a Used slot: one page of text
// and data at address zero and one page of stack above it. The slot
// becomes Runnable. If the image cannot be installed the allocation is
// undone and the slot is Unused again.
func (k *Kernel) Load(t *Thread, slot int, image *Image) error {
	p := k.procs[slot]
	p.lock.Acquire(t)
	defer p.lock.Release(t)

	if p.state != Used {
		kpanic(t, ErrInvariant, "load: slot %d is %v", slot, p.state)
	}
	if err := k.loadImage(p, image); err != nil {
		k.unallocate(t, p)
		return fmt.Errorf("load %s: %w", image.Name, err)
	}

	tf := k.trapframe(p)
	tf.Epc = userText
	tf.SP = userStack + PGSIZE

	p.image = image
	p.name = image.Name
	p.setState(t, Runnable)
	return nil
}

// loadImage maps the text and stack pages of p. Pages it got hold of are
// recorded in p even on failure, for unallocate.
func (k *Kernel) loadImage(p *Proc, image *Image) error {
	if err := checkImage(image); err != nil {
		return err
	}
	text, ok := k.kalloc.Alloc()
	if !ok {
		return ErrNoMem
	}
	p.text = text
	stack, ok := k.kalloc.Alloc()
	if !ok {
		return ErrNoMem
	}
	p.stack = stack
	if err := p.pagetable.Map(userText, text, PGSIZE, PTE_R|PTE_W|PTE_X|PTE_U); err != nil {
		return err
	}
	if err := p.pagetable.Map(userStack, stack, PGSIZE, PTE_R|PTE_W|PTE_U); err != nil {
		return err
	}
	k.mem.Write(text, image.Data)
	k.mem.SetProgram(text, image.Run)
	return nil
}

// unallocate gives a Used slot that never ran back to the table: user
// pages, the page table with every table page under it, and the trap
// frame. Used->Unused is the rollback of Allocate and not a scheduling
// edge, so it does not go through setState. p.lock must be held.
func (k *Kernel) unallocate(t *Thread, p *Proc) {
	if !p.lock.Holding(t) || p.state != Used {
		kpanic(t, ErrInvariant, "unallocate: slot %d is %v", p.slot, p.state)
	}
	if p.text != 0 {
		k.kalloc.Free(p.text)
		p.text = 0
	}
	if p.stack != 0 {
		k.kalloc.Free(p.stack)
		p.stack = 0
	}
	k.freeproc(p)
	log.WithFields(log.Fields{"slot": p.slot, "pid": p.pid}).Debug("[PROC] allocation undone")
	p.pid = 0
	p.state = Unused
}

// UserInit sets up the first user process. Failure here is fatal.
func (k *Kernel) UserInit(t *Thread, image *Image) int {
	slot, err := k.Spawn(t, image)
	if err != nil {
		kpanic(t, err, "userinit")
	}
	log.WithFields(log.Fields{"slot": slot, "image": image.Name}).Info("[PROC] first user process ready")
	return slot
}

// Spawn allocates a slot and loads image into it, leaving it Runnable. On
// failure no slot is consumed.
func (k *Kernel) Spawn(t *Thread, image *Image) (int, error) {
	if err := checkImage(image); err != nil {
		return -1, fmt.Errorf("spawn %s: %w", image.Name, err)
	}
	slot, err := k.Allocate(t)
	if err != nil {
		return -1, err
	}
	if err := k.Load(t, slot, image); err != nil {
		return -1, err
	}
	return slot, nil
}

// trapframe returns p's trap frame through the kernel's mapping of RAM.
func (k *Kernel) trapframe(p *Proc) *TrapFrame {
	return (*TrapFrame)(unsafe.Pointer(k.mem.Page(p.trapframe)))
}

// myproc returns the process running on the calling hart, or nil.
func (k *Kernel) myproc(t *Thread) *Proc {
	k.cpus.pushOff(t)
	slot, ok := k.cpus.Mine(t).Proc()
	k.cpus.popOff(t)
	if !ok {
		return nil
	}
	return k.procs[slot]
}

// Procs returns a snapshot of the process table, like ^P in xv6.
func (k *Kernel) Procs(t *Thread) []ProcSnapshot {
	out := make([]ProcSnapshot, 0, len(k.procs))
	for _, p := range k.procs {
		p.lock.Acquire(t)
		out = append(out, ProcSnapshot{
			Slot:   p.slot,
			PID:    p.pid,
			State:  p.state,
			Name:   p.name,
			KStack: p.kstack,
		})
		p.lock.Release(t)
	}
	return out
}
