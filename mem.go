package rxv6

import (
	"fmt"
	"sync"
	"unsafe"
)

// Page is one page of simulated physical memory. It is declared as words
// so that kernel structures laid over it are 8-byte aligned.
type Page [PGSIZE / 8]uint64

// Bytes returns the page as a byte slice.
func (pg *Page) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(pg)), PGSIZE)
}

// Memory is the simulated RAM of the machine: [KERNBASE, PHYSTOP).
// Pages come into existence the first time they are touched.
type Memory struct {
	mu      sync.Mutex
	pages   map[uint64]*Page
	text    map[uint64]Program
	phystop uint64
}

// NewMemory builds a machine memory holding npages pages after the kernel
// image.
func NewMemory(npages int) *Memory {
	return &Memory{
		pages:   map[uint64]*Page{},
		text:    map[uint64]Program{},
		phystop: END + uint64(npages)*PGSIZE,
	}
}

// PHYSTOP is the first address past the end of RAM.
func (m *Memory) PHYSTOP() uint64 { return m.phystop }

// Page returns the page containing physical address pa.
func (m *Memory) Page(pa uint64) *Page {
	if pa < KERNBASE || pa >= m.phystop {
		panic(fmt.Sprintf("physical address %#x out of range", pa))
	}
	base := PGROUNDDOWN(pa)

	m.mu.Lock()
	defer m.mu.Unlock()
	pg, ok := m.pages[base]
	if !ok {
		pg = new(Page)
		m.pages[base] = pg
	}
	return pg
}

// Word returns a pointer to the 8-byte aligned word at pa.
func (m *Memory) Word(pa uint64) *uint64 {
	if pa%8 != 0 {
		panic(fmt.Sprintf("misaligned word access at %#x", pa))
	}
	return &m.Page(pa)[(pa%PGSIZE)/8]
}

// Copy copies len(dst) bytes starting at physical address pa into dst. The
// range must not cross a page boundary.
func (m *Memory) Copy(dst []byte, pa uint64) {
	off := pa % PGSIZE
	if off+uint64(len(dst)) > PGSIZE {
		panic(fmt.Sprintf("copy of %d bytes at %#x crosses a page", len(dst), pa))
	}
	copy(dst, m.Page(pa).Bytes()[off:])
}

// Write copies src into physical memory at pa, within a single page.
func (m *Memory) Write(pa uint64, src []byte) {
	off := pa % PGSIZE
	if off+uint64(len(src)) > PGSIZE {
		panic(fmt.Sprintf("write of %d bytes at %#x crosses a page", len(src), pa))
	}
	copy(m.Page(pa).Bytes()[off:], src)
}

// SetProgram records that the page at pa holds the user program prog.
// A nil prog clears it.
func (m *Memory) SetProgram(pa uint64, prog Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prog == nil {
		delete(m.text, PGROUNDDOWN(pa))
		return
	}
	m.text[PGROUNDDOWN(pa)] = prog
}

// Program returns the user program held by the page at pa, if any.
func (m *Memory) Program(pa uint64) Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text[PGROUNDDOWN(pa)]
}
