package rxv6

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Kalloc is the physical page allocator, for user processes, kernel stacks,
// page-table pages and trap frames. It hands out whole pages.
type Kalloc struct {
	mem *Memory

	mu       sync.Mutex
	freelist []uint64
}

// NewKalloc puts every page in [END, PHYSTOP) on the free list.
func NewKalloc(mem *Memory) *Kalloc {
	k := &Kalloc{mem: mem}
	// low addresses on top of the stack
	for pa := mem.PHYSTOP() - PGSIZE; pa >= END; pa -= PGSIZE {
		k.freelist = append(k.freelist, pa)
	}
	log.WithFields(log.Fields{
		"start": fmt.Sprintf("%#x", END),
		"end":   fmt.Sprintf("%#x", mem.PHYSTOP()),
		"pages": len(k.freelist),
	}).Debug("[KALLOC] kinit")
	return k
}

// Alloc returns a zeroed page, or false when memory is exhausted.
func (k *Kalloc) Alloc() (uint64, bool) {
	k.mu.Lock()
	n := len(k.freelist)
	if n == 0 {
		k.mu.Unlock()
		return 0, false
	}
	pa := k.freelist[n-1]
	k.freelist = k.freelist[:n-1]
	k.mu.Unlock()

	*k.mem.Page(pa) = Page{}
	return pa, true
}

// Free returns the page at pa to the free list.
func (k *Kalloc) Free(pa uint64) {
	if pa%PGSIZE != 0 || pa < END || pa >= k.mem.PHYSTOP() {
		panic(fmt.Sprintf("kfree %#x", pa))
	}
	k.mem.SetProgram(pa, nil)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.freelist = append(k.freelist, pa)
}

// Available reports the number of free pages.
func (k *Kalloc) Available() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.freelist)
}
