package rxv6

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMineRequiresInterruptsOff(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	th := k.bootThread(0)

	th.Hart().IntrOn()
	if f := catchFault(func() { k.cpus.Mine(th) }); !errors.Is(f, ErrInvariant) {
		t.Fatalf("Mine with interrupts on: fault = %v", f)
	}
}

func TestCurrent(t *testing.T) {
	cfg := testConfig()
	cfg.Harts = 2
	k, _ := newTestKernel(t, cfg)
	th := k.bootThread(1)
	th.Hart().IntrOn()

	l := NewSpinLock("l", k.cpus)
	l.Acquire(th)
	k.cpus.pin(th, 3)
	got := k.cpus.Current(th)
	k.cpus.unpin(th)
	l.Release(th)

	want := CPUSnapshot{Hart: 1, Pinned: 3, Depth: 1, Intena: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Current (-want +got):\n%s", diff)
	}
	if p := k.cpus.Pinned(1); p != -1 {
		t.Errorf("Pinned(1) = %d after unpin", p)
	}
}

func TestPinExclusive(t *testing.T) {
	cfg := testConfig()
	cfg.Harts = 2
	k, _ := newTestKernel(t, cfg)
	th0 := k.bootThread(0)
	th1 := k.bootThread(1)

	k.cpus.pin(th0, 2)
	if f := catchFault(func() { k.cpus.pin(th1, 2) }); !errors.Is(f, ErrInvariant) {
		t.Errorf("second hart pinned the same slot: fault = %v", f)
	}
	if f := catchFault(func() { k.cpus.pin(th0, 1) }); !errors.Is(f, ErrInvariant) {
		t.Errorf("hart pinned twice: fault = %v", f)
	}
	if got := k.cpus.Pinned(0); got != 2 {
		t.Errorf("Pinned(0) = %d, want 2", got)
	}
}

func TestPopOffUnbalanced(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	th := k.bootThread(0)
	if f := catchFault(func() { k.cpus.popOff(th) }); !errors.Is(f, ErrInvariant) {
		t.Errorf("fault = %v, want %v", f, ErrInvariant)
	}
}
