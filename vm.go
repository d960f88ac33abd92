package rxv6

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// PageTable is an Sv39 page table living in simulated physical memory.
//
// A 64-bit virtual address is split into five fields:
//
//	39..63 -- must be zero.
//	30..38 -- 9 bits of level-2 index.
//	21..29 -- 9 bits of level-1 index.
//	12..20 -- 9 bits of level-0 index.
//	 0..11 -- 12 bits of byte offset within the page.
type PageTable struct {
	root   uint64
	mem    *Memory
	kalloc *Kalloc
}

// CreatePageTable allocates an empty root page.
func CreatePageTable(mem *Memory, ka *Kalloc) (*PageTable, error) {
	root, ok := ka.Alloc()
	if !ok {
		return nil, fmt.Errorf("create page table: %w", ErrNoMem)
	}
	return &PageTable{root: root, mem: mem, kalloc: ka}, nil
}

// pageTableAt wraps an existing root, e.g. the one named by satp.
func pageTableAt(mem *Memory, ka *Kalloc, root uint64) *PageTable {
	return &PageTable{root: root, mem: mem, kalloc: ka}
}

// Root is the physical address of the root page.
func (pt *PageTable) Root() uint64 { return pt.root }

// SATP is the activation value of this table.
func (pt *PageTable) SATP() uint64 { return MakeSATP(pt.root) }

// walk returns the address of the level-0 PTE for va, creating the
// intermediate page-table pages when alloc is set.
func (pt *PageTable) walk(va uint64, alloc bool) (uint64, error) {
	if va >= MAXVA {
		panic(fmt.Sprintf("walk: va %#x beyond MAXVA", va))
	}
	table := pt.root
	for level := 2; level > 0; level-- {
		pteAddr := table + PX(level, va)*8
		pte := *pt.mem.Word(pteAddr)
		if pte&PTE_V != 0 {
			table = PTE2PA(pte)
			continue
		}
		if !alloc {
			return 0, ErrNotMapped
		}
		page, ok := pt.kalloc.Alloc()
		if !ok {
			return 0, ErrNoMem
		}
		*pt.mem.Word(pteAddr) = PA2PTE(page) | PTE_V
		table = page
	}
	return table + PX(0, va)*8, nil
}

// Map creates PTEs for virtual addresses starting at va that refer to
// physical addresses starting at pa. size need not be page aligned.
// Mapping an address that is already mapped is a kernel bug.
func (pt *PageTable) Map(va, pa, size, perm uint64) error {
	if size == 0 {
		panic("mappages: size")
	}
	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	for {
		pteAddr, err := pt.walk(a, true)
		if err != nil {
			return fmt.Errorf("map %#x: %w", a, err)
		}
		pte := pt.mem.Word(pteAddr)
		if *pte&PTE_V != 0 {
			panic(fmt.Sprintf("mappages: remap %#x", a))
		}
		*pte = PA2PTE(pa) | perm | PTE_V
		if a == last {
			return nil
		}
		a += PGSIZE
		pa += PGSIZE
	}
}

// Lookup returns the leaf PTE for va.
func (pt *PageTable) Lookup(va uint64) (uint64, bool) {
	if va >= MAXVA {
		return 0, false
	}
	pteAddr, err := pt.walk(va, false)
	if err != nil {
		return 0, false
	}
	pte := *pt.mem.Word(pteAddr)
	if pte&PTE_V == 0 {
		return 0, false
	}
	return pte, true
}

// Translate maps a virtual address to its physical address.
func (pt *PageTable) Translate(va uint64) (uint64, bool) {
	pte, ok := pt.Lookup(va)
	if !ok {
		return 0, false
	}
	return PTE2PA(pte) | va%PGSIZE, true
}

// Free releases the page-table pages themselves. Leaf pages are owned by
// whoever mapped them.
func (pt *PageTable) Free() {
	pt.freewalk(pt.root, 2)
}

func (pt *PageTable) freewalk(table uint64, level int) {
	if level > 0 {
		for i := uint64(0); i < 512; i++ {
			pte := *pt.mem.Word(table + i*8)
			if pte&PTE_V != 0 {
				pt.freewalk(PTE2PA(pte), level-1)
			}
		}
	}
	pt.kalloc.Free(table)
}

// copyIn copies len(dst) bytes from user virtual address va.
func (pt *PageTable) copyIn(dst []byte, va uint64) error {
	for len(dst) > 0 {
		pte, ok := pt.Lookup(va)
		if !ok || pte&PTE_U == 0 || pte&PTE_R == 0 {
			return fmt.Errorf("copyin %#x: %w", va, ErrNotMapped)
		}
		n := PGSIZE - va%PGSIZE
		if n > uint64(len(dst)) {
			n = uint64(len(dst))
		}
		pt.mem.Copy(dst[:n], PTE2PA(pte)|va%PGSIZE)
		dst = dst[n:]
		va += n
	}
	return nil
}

// kvmmake builds the kernel page table: devices, kernel text and data,
// and the trampoline at the top of the address space.
func kvmmake(mem *Memory, ka *Kalloc) (*PageTable, error) {
	kpt, err := CreatePageTable(mem, ka)
	if err != nil {
		return nil, err
	}
	maps := []struct {
		va, pa, size, perm uint64
	}{
		{UART0, UART0, PGSIZE, PTE_R | PTE_W},
		{PLIC, PLIC, 0x400000, PTE_R | PTE_W},
		{KERNBASE, KERNBASE, ETEXT - KERNBASE, PTE_R | PTE_X},
		{ETEXT, ETEXT, mem.PHYSTOP() - ETEXT, PTE_R | PTE_W},
		{TRAMPOLINE, trampolinePA, PGSIZE, PTE_R | PTE_X},
	}
	for _, m := range maps {
		if err := kpt.Map(m.va, m.pa, m.size, m.perm); err != nil {
			return nil, fmt.Errorf("kvmmake: %w", err)
		}
	}
	log.WithField("root", fmt.Sprintf("%#x", kpt.Root())).Debug("[VM] kernel page table ready")
	return kpt, nil
}
