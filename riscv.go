package rxv6

import "fmt"

const PGSIZE = uint64(4096)

// MAXVA is one bit less than the max allowed by Sv39, to avoid having to
// sign-extend virtual addresses that have the high bit set.
const MAXVA = uint64(1) << (9 + 9 + 9 + 12 - 1)

const (
	PTE_V = uint64(1) << 0 // valid
	PTE_R = uint64(1) << 1
	PTE_W = uint64(1) << 2
	PTE_X = uint64(1) << 3
	PTE_U = uint64(1) << 4 // user can access
)

const satpSv39 = uint64(8) << 60

// MakeSATP returns the satp value that activates the page table rooted at pa.
func MakeSATP(root uint64) uint64 { return satpSv39 | (root >> 12) }

// satpRoot is the inverse of MakeSATP.
func satpRoot(satp uint64) uint64 { return (satp & (1<<44 - 1)) << 12 }

func PX(level int, va uint64) uint64 { return (va >> (12 + uint64(level)*9)) & 0x1FF }
func PTE2PA(pte uint64) uint64     { return (pte >> 10) << 12 }
func PA2PTE(pa uint64) uint64      { return (pa >> 12) << 10 }
func PGROUNDDOWN(a uint64) uint64  { return a &^ (PGSIZE - 1) }
func PGROUNDUP(a uint64) uint64    { return (a + PGSIZE - 1) &^ (PGSIZE - 1) }

// Mode is the privilege level a hart is executing in.
type Mode int

const (
	ModeUser       Mode = 0
	ModeSupervisor Mode = 1
)

func (m Mode) String() string {
	if m == ModeUser {
		return "U"
	}
	return "S"
}

// Cause is the value of the scause register.
type Cause uint64

const causeInterrupt = Cause(1) << 63

const (
	IntSupervisorSoft     = causeInterrupt | 1
	IntSupervisorTimer    = causeInterrupt | 5
	IntSupervisorExternal = causeInterrupt | 9
)

const (
	ExcInstructionMisaligned Cause = 0
	ExcInstructionFault      Cause = 1
	ExcIllegalInstruction    Cause = 2
	ExcBreakpoint            Cause = 3
	ExcLoadFault             Cause = 5
	ExcStoreFault            Cause = 7
	ExcEcallU                Cause = 8
	ExcEcallS                Cause = 9
	ExcInstructionPageFault  Cause = 12
	ExcLoadPageFault         Cause = 13
	ExcStorePageFault        Cause = 15
)

// IsInterrupt reports whether the cause describes an asynchronous interrupt.
func (c Cause) IsInterrupt() bool { return c&causeInterrupt != 0 }

// Code is the cause with the interrupt bit stripped.
func (c Cause) Code() uint64 { return uint64(c &^ causeInterrupt) }

func (c Cause) String() string {
	switch c {
	case IntSupervisorSoft:
		return "supervisor software interrupt"
	case IntSupervisorTimer:
		return "supervisor timer interrupt"
	case IntSupervisorExternal:
		return "supervisor external interrupt"
	case ExcEcallU:
		return "environment call from U-mode"
	case ExcInstructionPageFault:
		return "instruction page fault"
	case ExcLoadPageFault:
		return "load page fault"
	case ExcStorePageFault:
		return "store page fault"
	case ExcIllegalInstruction:
		return "illegal instruction"
	}
	if c.IsInterrupt() {
		return fmt.Sprintf("interrupt %d", c.Code())
	}
	return fmt.Sprintf("exception %d", c.Code())
}

// sip bits.
const (
	SIP_SSIP = uint64(1) << 1
	SIP_STIP = uint64(1) << 5
	SIP_SEIP = uint64(1) << 9
)

// Register numbers of the general purpose register file, x0..x31.
const (
	RegZero = iota
	RegRA
	RegSP
	RegGP
	RegTP
	RegT0
	RegT1
	RegT2
	RegS0
	RegS1
	RegA0
	RegA1
	RegA2
	RegA3
	RegA4
	RegA5
	RegA6
	RegA7
	RegS2
	RegS3
	RegS4
	RegS5
	RegS6
	RegS7
	RegS8
	RegS9
	RegS10
	RegS11
	RegT3
	RegT4
	RegT5
	RegT6
)
