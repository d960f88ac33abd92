package rxv6

import (
	"errors"
	"testing"
)

// exitWithA0 makes a0 the exit status, so a test can read back what the
// preceding system call returned.
func exitWithA0(code ...Instr) Program {
	return Assemble(append(code, Syscall(SysExit)...)...)
}

func runOne(t *testing.T, cfg Config, run Program, opts ...Option) *Kernel {
	t.Helper()
	k, _ := newTestKernel(t, cfg, opts...)
	if err := bootWithTimeout(t, k, &Image{Name: t.Name(), Run: run}); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return k
}

func TestSysWriteErrors(t *testing.T) {
	tests := []struct {
		name string
		fd   uint64
		va   uint64
		n    uint64
	}{
		{name: "bad fd", fd: 5, va: userText, n: 1},
		{name: "stdin", fd: 0, va: userText, n: 1},
		{name: "unmapped buffer", fd: 1, va: 0x10000, n: 1},
		{name: "kernel buffer", fd: 1, va: TRAPFRAME, n: 8},
		{name: "too long", fd: 1, va: userText, n: maxWrite + 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			k := runOne(t, testConfig(), exitWithA0(
				Li(RegA0, tc.fd),
				Li(RegA1, tc.va),
				Li(RegA2, tc.n),
				Li(RegA7, uint64(SysWrite)),
				Ecall(),
			))
			if got := k.procs[0].xstate; got != -1 {
				t.Errorf("write returned %d, want -1", got)
			}
		})
	}
}

func TestSysWriteStderr(t *testing.T) {
	k, out := newTestKernel(t, testConfig())
	msg := "oops\n"
	data := make([]byte, 0x100+len(msg))
	copy(data[0x100:], msg)

	run := exitWithA0(
		Li(RegA0, 2),
		Li(RegA1, 0x100),
		Li(RegA2, uint64(len(msg))),
		Li(RegA7, uint64(SysWrite)),
		Ecall(),
	)
	if err := bootWithTimeout(t, k, &Image{Name: "stderr", Data: data, Run: run}); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if out.String() != msg {
		t.Errorf("console = %q, want %q", out.String(), msg)
	}
	if got := k.procs[0].xstate; got != len(msg) {
		t.Errorf("write returned %d, want %d", got, len(msg))
	}
}

func TestSysUptime(t *testing.T) {
	cfg := testConfig()
	cfg.Timeslice = 2
	code := make([]Instr, 0, 12)
	for i := 0; i < 10; i++ {
		code = append(code, Nop())
	}
	code = append(code, Syscall(SysUptime)...)
	k := runOne(t, cfg, exitWithA0(code...))

	// ten nops and the li before the ecall
	if got := k.procs[0].xstate; got != 5 {
		t.Errorf("uptime = %d, want 5", got)
	}
}

func TestSysUptimeCountsAllHarts(t *testing.T) {
	cfg := testConfig()
	cfg.Harts = 2
	k, _ := newTestKernel(t, cfg)
	th0, th1 := k.bootThread(0), k.bootThread(1)

	// one timer interrupt on each hart, then one more on hart 1.
	for _, th := range []*Thread{th0, th1, th1} {
		th.Hart().Raise(SIP_SSIP)
		th.Hart().IntrOn()
		th.Hart().IntrOff()
	}
	var tf TrapFrame
	if got := sysUptime(k, th0, nil, &tf); got != 3 {
		t.Errorf("uptime on hart 0 = %d, want 3", got)
	}
}

func TestSysExitStatus(t *testing.T) {
	k := runOne(t, testConfig(), Exit("exit", -7).Run)
	if got := k.procs[0].xstate; got != -7 {
		t.Errorf("status = %d, want -7", got)
	}
}

func TestUnknownSyscall(t *testing.T) {
	for _, num := range []Sysno{SysFork, SysClose, 99} {
		t.Run(num.String(), func(t *testing.T) {
			k, _ := newTestKernel(t, testConfig())
			err := bootWithTimeout(t, k, &Image{Name: "bad", Run: Assemble(Syscall(num)...)})
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("Boot = %v, want %v", err, ErrUnsupported)
			}
			var f *Fault
			if errors.As(err, &f) && f.PID != 1 {
				t.Errorf("fault pid = %d, want 1", f.PID)
			}
		})
	}
}

func TestInjectedSyscall(t *testing.T) {
	tbl := DefaultSyscalls()
	tbl[SysFork] = func(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64 {
		return tf.Arg(0) + tf.Arg(1)
	}
	k := runOne(t, testConfig(), exitWithA0(
		Li(RegA0, 40),
		Li(RegA1, 2),
		Li(RegA7, uint64(SysFork)),
		Ecall(),
	), WithSyscalls(tbl))

	if got := k.procs[0].xstate; got != 42 {
		t.Errorf("status = %d, want 42", got)
	}
}

func TestEcallResumesAfterInstruction(t *testing.T) {
	// getpid twice: if epc were not advanced past the ecall the program
	// would never reach the exit.
	k := runOne(t, testConfig(), exitWithA0(
		Li(RegA7, uint64(SysGetpid)),
		Ecall(),
		Addi(RegS1, RegA0, 0),
		Li(RegA7, uint64(SysGetpid)),
		Ecall(),
		Addi(RegA0, RegA0, 10),
	))
	if got := k.procs[0].xstate; got != 11 {
		t.Errorf("status = %d, want 11", got)
	}
}

func TestSysnoString(t *testing.T) {
	if got := SysWrite.String(); got != "write" {
		t.Errorf("SysWrite = %q", got)
	}
	if got := Sysno(99).String(); got != "sys99" {
		t.Errorf("Sysno(99) = %q", got)
	}
}
