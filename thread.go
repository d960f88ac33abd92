package rxv6

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Context holds the saved registers for kernel context switches. Only the
// callee-saved registers and the stack are kept: swtch is an ordinary call
// as far as its caller is concerned.
type Context struct {
	RA uint64
	SP uint64

	// callee-saved
	S [12]uint64
}

// Thread is a kernel thread of control: a hart's scheduler loop or the
// kernel half of a process. Each thread runs on its own goroutine, but only
// while it owns a hart; the rest of the time it is parked inside swtch.
type Thread struct {
	Context

	name    string
	tp      *Hart // the hart this thread is running on
	proc    *Proc // nil for scheduler threads
	wake    chan struct{}
	started bool
	exiting bool
}

func (t *Thread) init(name string, p *Proc) {
	t.name = name
	t.proc = p
	t.wake = make(chan struct{})
}

// Hart returns the hart the thread is executing on, like reading tp.
func (t *Thread) Hart() *Hart { return t.tp }

func (t *Thread) String() string {
	if t.tp == nil {
		return t.name
	}
	return fmt.Sprintf("%s@hart%d", t.name, t.tp.ID)
}

// swtch saves the current thread's context in from and resumes to on the
// same hart. It returns when some hart, maybe a different one, switches
// back to from. A fresh context starts at its return address.
//
// Interrupts must be off on both sides.
func (k *Kernel) swtch(from, to *Thread) {
	h := from.tp
	if h.IntrGet() {
		kpanic(from, ErrInvariant, "swtch: interrupts enabled")
	}
	to.tp = h
	h.thread = to
	h.regs[RegSP] = to.SP

	if !to.started {
		entry, ok := k.text.Resolve(to.RA)
		if !ok {
			kpanic(from, ErrInvariant, "swtch: %s has no code at ra %#x", to.name, to.RA)
		}
		to.started = true
		log.WithFields(log.Fields{
			"thread": to.name,
			"ra":     k.text.Name(to.RA),
			"sp":     fmt.Sprintf("%#x", to.SP),
		}).Trace("[SWTCH] start thread")
		go k.threadRoot(to, entry)
	} else {
		select {
		case to.wake <- struct{}{}:
		case <-k.halted:
			runtime.Goexit()
		}
	}

	if from.exiting {
		runtime.Goexit()
	}
	select {
	case <-from.wake:
	case <-k.halted:
		runtime.Goexit()
	}
}

// threadRoot is the bottom of every thread's goroutine. A thread never
// returns from its entry routine; a kernel panic anywhere above it halts
// the machine here.
func (k *Kernel) threadRoot(t *Thread, entry Handler) {
	defer k.recoverFault(t)
	entry(t)
	kpanic(t, ErrInvariant, "thread %s returned", t.name)
}
