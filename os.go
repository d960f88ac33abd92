package rxv6

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Kernel is the simulated machine and the kernel running on it: RAM, the
// harts with their CPU records, the process table and the trap plumbing.
type Kernel struct {
	cfg Config

	mem    *Memory
	kalloc *Kalloc
	kpt    *PageTable
	text   *Text

	harts []*Hart
	cpus  *CPUs
	procs []*Proc

	nextpid  *Locked[int]
	syscalls SyscallTable
	console  *Console

	// timer interrupts taken, all harts
	ticks atomic.Uint64

	halted   chan struct{}
	haltOnce sync.Once
	faultMu  sync.Mutex
	fault    error
}

// Option customizes a Kernel.
type Option func(*Kernel)

// WithConsole sends console output to w instead of standard output.
func WithConsole(w io.Writer) Option {
	return func(k *Kernel) { k.console = NewConsole(w) }
}

// WithSyscalls replaces the system call table.
func WithSyscalls(tbl SyscallTable) Option {
	return func(k *Kernel) { k.syscalls = tbl }
}

// NewKernel builds the machine described by cfg and runs the boot-time
// setup of the kernel: physical allocator, kernel page table, process
// table and per-hart trap vectors. Nothing runs until Boot.
func NewKernel(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:      cfg,
		syscalls: DefaultSyscalls(),
		halted:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.console == nil {
		k.console = NewConsole(os.Stdout)
	}

	k.mem = NewMemory(cfg.MemPages)
	k.kalloc = NewKalloc(k.mem)

	k.text = newText()
	k.text.Link(symKernelvec, k.kernelvec)
	k.text.Link(symUsertrap, k.usertrap)
	k.text.Link(symForkret, k.forkret)
	k.text.LinkAt(symUservec, TRAMPOLINE, k.uservec)
	k.text.LinkAt(symUserret, TRAMPOLINE+userretOffset, k.userret)

	kpt, err := kvmmake(k.mem, k.kalloc)
	if err != nil {
		return nil, err
	}
	k.kpt = kpt

	k.cpus = newCPUs(cfg.Harts, k.halted)
	k.nextpid = NewLocked("nextpid", k.cpus, 1)
	if err := k.procinit(); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Harts; i++ {
		h := newHart(i, cfg, k.text, k.mem, k.kalloc)
		k.trapinithart(h)
		k.harts = append(k.harts, h)
	}

	log.WithFields(log.Fields{
		"harts":     cfg.Harts,
		"nproc":     cfg.NProc,
		"freepages": k.kalloc.Available(),
	}).Info("[KERNEL] machine built")
	return k, nil
}

// Boot starts every hart. Hart 0 creates the first user process from
// initcode, and one more process per image in more, before the other harts
// start scheduling. Boot returns when every hart
// has stopped: the machine powers off once no live process is left, halts
// on the first kernel panic, and halts when ctx is done. The error is the
// fault that halted the machine, if any.
//
// Boot may be called once.
func (k *Kernel) Boot(ctx context.Context, initcode *Image, more ...*Image) error {
	defer k.console.Close()

	for _, h := range k.harts {
		h.clock = ctx
	}

	log.Info("[KERNEL] boot: starting harts")

	started := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return k.runHart(0, func(t *Thread) {
			k.UserInit(t, initcode)
			for _, img := range more {
				if _, err := k.Spawn(t, img); err != nil {
					kpanic(t, err, "boot: spawn %s", img.Name)
				}
			}
			close(started)
			k.Scheduler(t)
		})
	})
	for i := 1; i < len(k.harts); i++ {
		i := i
		g.Go(func() error {
			select {
			case <-started:
			case <-k.halted:
				return k.Err()
			}
			return k.runHart(i, k.Scheduler)
		})
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			k.halt(fmt.Errorf("boot: %v: %w", ctx.Err(), ErrHalted))
		case <-stopped:
		}
	}()

	err := g.Wait()
	close(stopped)
	if err != nil {
		return err
	}
	log.WithField("ticks", k.ticks.Load()).Info("[KERNEL] no process left, power off")
	return nil
}

// runHart runs body as hart i's scheduler thread and waits for it. Threads
// leave through runtime.Goexit when the machine halts, so body gets a
// goroutine of its own. The error is the fault that halted the machine.
func (k *Kernel) runHart(i int, body func(t *Thread)) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := k.bootThread(i)
		defer k.recoverFault(t)
		body(t)
	}()
	<-done
	return k.Err()
}

// bootThread puts hart i's scheduler thread on hart i.
func (k *Kernel) bootThread(i int) *Thread {
	h := k.harts[i]
	t := &k.cpus.cpus[i].Scheduler
	t.tp = h
	t.started = true
	h.thread = t
	h.regs[RegTP] = uint64(i)
	return t
}

// halt stops the machine. The first error wins.
func (k *Kernel) halt(err error) {
	k.haltOnce.Do(func() {
		k.faultMu.Lock()
		k.fault = err
		k.faultMu.Unlock()
		close(k.halted)
	})
}

// Err returns the error that halted the machine, or nil.
func (k *Kernel) Err() error {
	k.faultMu.Lock()
	defer k.faultMu.Unlock()
	return k.fault
}

// recoverFault is deferred at the root of every thread. A kernel panic
// there halts the whole machine.
func (k *Kernel) recoverFault(t *Thread) {
	r := recover()
	if r == nil {
		return
	}
	f, ok := r.(*Fault)
	if !ok {
		f = &Fault{Hart: -1, Err: fmt.Errorf("%v: %w", r, ErrInvariant)}
		if h := t.Hart(); h != nil {
			f.Hart = h.ID
		}
		if t.proc != nil {
			f.PID = t.proc.pid
		}
	}
	log.WithFields(log.Fields{
		"thread": t.name,
		"hart":   f.Hart,
		"pid":    f.PID,
	}).WithError(f.Err).Error("[KERNEL] kernel panic: system halted")
	k.halt(f)
}

// Ticks returns the number of timer interrupts taken since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

// Config returns the machine description.
func (k *Kernel) Config() Config { return k.cfg }

// Hart returns hart i.
func (k *Kernel) Hart(i int) *Hart { return k.harts[i] }

// FreePages reports the number of unallocated physical pages.
func (k *Kernel) FreePages() int { return k.kalloc.Available() }
