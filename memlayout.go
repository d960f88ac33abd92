package rxv6

// Physical memory layout, as set up by qemu -machine virt:
//
// 02000000 -- CLINT
// 0C000000 -- PLIC
// 10000000 -- uart0
// 80000000 -- kernel text, then kernel data
// end      -- start of page allocation area
// PHYSTOP  -- end of RAM used by the kernel
//
// The simulated machine keeps the same addresses so that page-table
// contents look like the real thing.
const (
	UART0 = uint64(0x10000000)
	PLIC  = uint64(0x0c000000)
	CLINT = uint64(0x2000000)

	KERNBASE = uint64(0x80000000)

	// kernelTextPages is the size of the kernel image; the page
	// allocator starts right after it.
	kernelTextPages = 16
	ETEXT           = KERNBASE + kernelTextPages/2*PGSIZE
	END             = KERNBASE + kernelTextPages*PGSIZE
)

// map the trampoline page to the highest address,
// in both user and kernel space.
const TRAMPOLINE = MAXVA - PGSIZE

// TRAPFRAME sits just under the trampoline in every user address space.
const TRAPFRAME = TRAMPOLINE - PGSIZE

// KSTACK returns the kernel stack address of slot i. Stacks live beneath
// the trampoline, each followed by an unmapped guard page.
func KSTACK(i int) uint64 { return TRAMPOLINE - uint64(i+1)*2*PGSIZE }

// User memory layout. Address zero first:
//
//	text and data (one page)
//	stack (one page)
//	...
//	TRAPFRAME
//	TRAMPOLINE
const (
	userText  = uint64(0)
	userStack = userText + PGSIZE
)
