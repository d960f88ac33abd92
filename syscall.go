package rxv6

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Sysno is a system call number, passed in a7.
type Sysno uint64

// System call numbers.
const (
	SysFork   Sysno = 1
	SysExit   Sysno = 2
	SysWait   Sysno = 3
	SysPipe   Sysno = 4
	SysRead   Sysno = 5
	SysKill   Sysno = 6
	SysExec   Sysno = 7
	SysFstat  Sysno = 8
	SysChdir  Sysno = 9
	SysDup    Sysno = 10
	SysGetpid Sysno = 11
	SysSbrk   Sysno = 12
	SysSleep  Sysno = 13
	SysUptime Sysno = 14
	SysOpen   Sysno = 15
	SysWrite  Sysno = 16
	SysMknod  Sysno = 17
	SysUnlink Sysno = 18
	SysLink   Sysno = 19
	SysMkdir  Sysno = 20
	SysClose  Sysno = 21
)

var sysnoNames = map[Sysno]string{
	SysFork:   "fork",
	SysExit:   "exit",
	SysWait:   "wait",
	SysPipe:   "pipe",
	SysRead:   "read",
	SysKill:   "kill",
	SysExec:   "exec",
	SysFstat:  "fstat",
	SysChdir:  "chdir",
	SysDup:    "dup",
	SysGetpid: "getpid",
	SysSbrk:   "sbrk",
	SysSleep:  "sleep",
	SysUptime: "uptime",
	SysOpen:   "open",
	SysWrite:  "write",
	SysMknod:  "mknod",
	SysUnlink: "unlink",
	SysLink:   "link",
	SysMkdir:  "mkdir",
	SysClose:  "close",
}

func (n Sysno) String() string {
	if name, ok := sysnoNames[n]; ok {
		return name
	}
	return fmt.Sprintf("sys%d", uint64(n))
}

// SyscallFunc implements one system call. Arguments are in tf; the return
// value goes to a0.
type SyscallFunc func(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64

// SyscallTable maps numbers to implementations. A number with no entry
// stops the machine.
type SyscallTable map[Sysno]SyscallFunc

// DefaultSyscalls is the table a kernel boots with.
func DefaultSyscalls() SyscallTable {
	return SyscallTable{
		SysExit:   sysExit,
		SysGetpid: sysGetpid,
		SysUptime: sysUptime,
		SysWrite:  sysWrite,
	}
}

// syscall dispatches on a7 and stores the result in a0.
func (k *Kernel) syscall(t *Thread, p *Proc, tf *TrapFrame) {
	num := Sysno(tf.A7)
	fn, ok := k.syscalls[num]
	if !ok {
		log.WithFields(log.Fields{
			"pid":  p.pid,
			"name": p.name,
			"num":  uint64(num),
		}).Error("[SYS] unknown sys call")
		kpanic(t, ErrUnsupported, "syscall %v", num)
	}
	log.WithFields(log.Fields{"pid": p.pid, "call": num}).Trace("[SYS] syscall")
	tf.A0 = fn(k, t, p, tf)
}

func sysExit(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64 {
	k.exit(t, int(int32(tf.Arg(0))))
	return 0 // not reached
}

func sysGetpid(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64 {
	return uint64(p.pid)
}

// sysUptime returns the number of timer interrupts taken since boot, on
// all harts.
func sysUptime(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64 {
	return k.ticks.Load()
}

// errReturn is -1 in a0.
const errReturn = ^uint64(0)

// maxWrite bounds one write; the console copies through a kernel buffer.
const maxWrite = 512

// sysWrite copies a user buffer to the console. Only stdout and stderr
// exist.
func sysWrite(k *Kernel, t *Thread, p *Proc, tf *TrapFrame) uint64 {
	fd, va, n := int(tf.Arg(0)), tf.Arg(1), int(tf.Arg(2))
	if fd != 1 && fd != 2 {
		return errReturn
	}
	if n < 0 || n > maxWrite {
		return errReturn
	}
	buf := make([]byte, n)
	if err := p.pagetable.copyIn(buf, va); err != nil {
		log.WithError(err).WithField("pid", p.pid).Debug("[SYS] write: bad buffer")
		return errReturn
	}
	if _, err := k.console.Write(buf); err != nil {
		return errReturn
	}
	return uint64(n)
}
