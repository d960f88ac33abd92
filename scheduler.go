package rxv6

import (
	log "github.com/sirupsen/logrus"
)

// Scheduler is the per-hart scheduler loop. Each hart runs it after setting
// itself up. It loops, doing:
//   - choose a process to run.
//   - swtch to start running that process.
//   - eventually that process transfers control via swtch back to the
//     scheduler.
//
// It returns once a pass finds no live process (the machine powers off) or
// the machine halts.
func (k *Kernel) Scheduler(t *Thread) {
	logger := t.Hart().logger()
	logger.Debug("[SCHED] scheduler on")
	for {
		select {
		case <-k.halted:
			logger.Debug("[SCHED] machine halted")
			return
		default:
		}
		ran, live := k.Sweep(t)
		if live == 0 {
			logger.Info("[SCHED] no process to run, hart stops")
			return
		}
		if ran == 0 {
			t.Hart().idle()
		}
	}
}

// Sweep makes one round-robin pass over the process table and runs every
// process it finds Runnable. It returns the number of processes it ran
// and the number of live (not Unused, not Zombie) slots it saw.
func (k *Kernel) Sweep(t *Thread) (ran, live int) {
	// The most recent process to run may have had interrupts turned off;
	// enable them so a pending timer tick is taken here.
	t.Hart().IntrOn()

	for i, p := range k.procs {
		p.lock.Acquire(t)
		if p.state == Runnable {
			// Switch to chosen process. It is the process's job to
			// release its lock and then reacquire it before jumping
			// back to us.
			p.setState(t, Running)
			k.cpus.pin(t, i)
			log.WithFields(log.Fields{
				"hart": t.Hart().ID,
				"slot": i,
				"pid":  p.pid,
			}).Trace("[SCHED] dispatch")

			k.swtch(t, &p.thread)

			// Process is done running for now.
			k.cpus.unpin(t)
			ran++
		}
		if p.state != Unused && p.state != Zombie {
			live++
		}
		p.lock.Release(t)
	}
	return ran, live
}

// sched switches to the scheduler. The caller must hold only p.lock and
// must have changed p.state. It saves and restores intena because intena
// is a property of this kernel thread, not this hart.
func (k *Kernel) sched(t *Thread, p *Proc) {
	if !p.lock.Holding(t) {
		kpanic(t, ErrInvariant, "sched: p.lock not held")
	}
	if t.Hart().IntrGet() {
		kpanic(t, ErrInvariant, "sched: interruptible")
	}
	cpu := k.cpus.Mine(t)
	if cpu.noff != 1 {
		kpanic(t, ErrInvariant, "sched: %d locks held", cpu.noff)
	}
	if p.state == Running {
		kpanic(t, ErrInvariant, "sched: process still running")
	}

	intena := cpu.intena
	k.swtch(t, &cpu.Scheduler)
	k.cpus.Mine(t).intena = intena
}

// Step gives up the hart for one scheduling round.
func (k *Kernel) Step(t *Thread) {
	p := k.myproc(t)
	if p == nil {
		kpanic(t, ErrInvariant, "step: no process on this hart")
	}
	p.lock.Acquire(t)
	p.setState(t, Runnable)
	k.sched(t, p)
	p.lock.Release(t)
}

// exit ends the current process. It does not return: the process stays a
// Zombie and its thread goes away.
func (k *Kernel) exit(t *Thread, status int) {
	p := k.myproc(t)
	if p == nil {
		kpanic(t, ErrInvariant, "exit: no process on this hart")
	}
	p.lock.Acquire(t)
	p.xstate = status
	p.setState(t, Zombie)
	log.WithFields(log.Fields{
		"pid":    p.pid,
		"status": status,
	}).Info("[PROC] exit")

	t.exiting = true
	k.sched(t, p)
	kpanic(t, ErrInvariant, "zombie exit")
}
