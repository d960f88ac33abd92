package rxv6

import "fmt"

// Handler is a kernel routine that can be reached through an address:
// a trap vector, a context's return address, or a trampoline jump.
type Handler func(t *Thread)

// Text is the kernel's symbol table. It gives kernel routines addresses so
// that stvec, Context.RA and the trap frame's kernel_trap can hold plain
// numbers, as they do on hardware. It is built at boot and read-only after.
type Text struct {
	addrs map[string]uint64
	names map[uint64]string
	funcs map[uint64]Handler
	next  uint64
}

const (
	symKernelvec = "kernelvec"
	symUsertrap  = "usertrap"
	symForkret   = "forkret"
	symUservec   = "uservec"
	symUserret   = "userret"
)

// The trampoline is the last page of kernel text. uservec is at its start.
const (
	trampolinePA  = ETEXT - PGSIZE
	userretOffset = uint64(0x90)
)

func newText() *Text {
	return &Text{
		addrs: map[string]uint64{},
		names: map[uint64]string{},
		funcs: map[uint64]Handler{},
		next:  KERNBASE + PGSIZE,
	}
}

// Link places fn in kernel text and returns its address.
func (t *Text) Link(name string, fn Handler) uint64 {
	addr := t.next
	if addr >= trampolinePA {
		panic("kernel text overflows into the trampoline")
	}
	t.next += 0x40
	t.LinkAt(name, addr, fn)
	return addr
}

// LinkAt binds fn to a fixed address.
func (t *Text) LinkAt(name string, addr uint64, fn Handler) {
	if _, dup := t.funcs[addr]; dup {
		panic(fmt.Sprintf("symbol %s: address %#x already linked", name, addr))
	}
	t.addrs[name] = addr
	t.names[addr] = name
	t.funcs[addr] = fn
}

// Addr returns the address of a linked symbol.
func (t *Text) Addr(name string) uint64 {
	addr, ok := t.addrs[name]
	if !ok {
		panic("undefined symbol " + name)
	}
	return addr
}

// Resolve returns the routine at addr.
func (t *Text) Resolve(addr uint64) (Handler, bool) {
	fn, ok := t.funcs[addr]
	return fn, ok
}

// Name returns the symbol at addr, for diagnostics.
func (t *Text) Name(addr uint64) string {
	if name, ok := t.names[addr]; ok {
		return name
	}
	return fmt.Sprintf("%#x", addr)
}
