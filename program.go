package rxv6

// Program is the code in a user text page. It executes the single
// instruction at h.PC() and reports a synchronous exception if the
// instruction raises one; the hart advances the pc otherwise.
type Program func(h *Hart) (Cause, bool)

// Instr is one user instruction.
type Instr func(h *Hart) (Cause, bool)

// Image is a user program ready to be loaded: the initial contents of its
// text page and the code that runs out of it.
type Image struct {
	Name string
	Data []byte
	Run  Program
}

// Assemble lays instrs out from address zero, four bytes apart. Fetching
// past the last one is an illegal instruction.
func Assemble(instrs ...Instr) Program {
	return func(h *Hart) (Cause, bool) {
		if h.PC()%4 != 0 {
			return ExcInstructionMisaligned, true
		}
		i := (h.PC() % PGSIZE) / 4
		if i >= uint64(len(instrs)) {
			return ExcIllegalInstruction, true
		}
		return instrs[i](h)
	}
}

// Li loads an immediate.
func Li(rd int, imm uint64) Instr {
	return func(h *Hart) (Cause, bool) {
		h.SetReg(rd, imm)
		return 0, false
	}
}

// Addi adds a signed immediate.
func Addi(rd, rs int, imm int64) Instr {
	return func(h *Hart) (Cause, bool) {
		h.SetReg(rd, h.Reg(rs)+uint64(imm))
		return 0, false
	}
}

// Mv copies a register.
func Mv(rd, rs int) Instr { return Addi(rd, rs, 0) }

// J jumps to an absolute user address.
func J(target uint64) Instr {
	return func(h *Hart) (Cause, bool) {
		h.Jump(target)
		return 0, false
	}
}

// Bnez branches to target when rs is not zero.
func Bnez(rs int, target uint64) Instr {
	return func(h *Hart) (Cause, bool) {
		if h.Reg(rs) != 0 {
			h.Jump(target)
		}
		return 0, false
	}
}

// Ecall traps into the kernel.
func Ecall() Instr {
	return func(h *Hart) (Cause, bool) {
		return ExcEcallU, true
	}
}

// Ebreak raises a breakpoint exception.
func Ebreak() Instr {
	return func(h *Hart) (Cause, bool) {
		return ExcBreakpoint, true
	}
}

// Nop does nothing.
func Nop() Instr { return Addi(RegZero, RegZero, 0) }

// Syscall loads the number into a7 and traps. Arguments must already be in
// a0..a5.
func Syscall(num Sysno) []Instr {
	return []Instr{Li(RegA7, uint64(num)), Ecall()}
}

// initMsgOff is where InitCode keeps its message within the text page.
const initMsgOff = 0x800

// InitCode is the first user program: it writes msg to the console, burns
// spins loop iterations so the timer gets a chance to preempt it, and exits
// with status 0.
func InitCode(msg string, spins uint64) *Image {
	var code []Instr
	code = append(code,
		Li(RegA0, 1),
		Li(RegA1, userText+initMsgOff),
		Li(RegA2, uint64(len(msg))),
	)
	code = append(code, Syscall(SysWrite)...)
	loop := uint64(len(code)+1) * 4
	code = append(code,
		Li(RegS0, spins+1),
		Addi(RegS0, RegS0, -1), // loop:
		Bnez(RegS0, loop),
		Li(RegA0, 0),
	)
	code = append(code, Syscall(SysExit)...)

	data := make([]byte, initMsgOff+len(msg))
	copy(data[initMsgOff:], msg)
	return &Image{Name: "initcode", Data: data, Run: Assemble(code...)}
}

// Spin is a program that loops forever without making system calls. It
// only leaves user mode when the timer fires.
func Spin(name string) *Image {
	return &Image{Name: name, Run: Assemble(J(userText))}
}

// Exit is a program that exits at once with status.
func Exit(name string, status int) *Image {
	code := []Instr{Li(RegA0, uint64(status))}
	code = append(code, Syscall(SysExit)...)
	return &Image{Name: name, Run: Assemble(code...)}
}
