package rxv6

import "testing"

func TestKallocOrderAndExhaustion(t *testing.T) {
	mem := NewMemory(3)
	ka := NewKalloc(mem)

	var got []uint64
	for {
		pa, ok := ka.Alloc()
		if !ok {
			break
		}
		got = append(got, pa)
	}
	want := []uint64{END, END + PGSIZE, END + 2*PGSIZE}
	if len(got) != len(want) {
		t.Fatalf("allocated %d pages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("page %d = %#x, want %#x", i, got[i], want[i])
		}
	}

	ka.Free(got[1])
	if pa, ok := ka.Alloc(); !ok || pa != got[1] {
		t.Errorf("Alloc after Free = %#x, %v, want %#x", pa, ok, got[1])
	}
}

func TestKallocZeroes(t *testing.T) {
	mem := NewMemory(1)
	ka := NewKalloc(mem)

	pa, _ := ka.Alloc()
	mem.Write(pa, []byte("dirty"))
	mem.SetProgram(pa, Assemble(Nop()))
	ka.Free(pa)

	pa, _ = ka.Alloc()
	for i, b := range mem.Page(pa).Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#x in a fresh page", i, b)
		}
	}
	if mem.Program(pa) != nil {
		t.Error("fresh page still holds a program")
	}
}

func TestKallocFreeBadAddress(t *testing.T) {
	ka := NewKalloc(NewMemory(2))
	for _, pa := range []uint64{END + 1, KERNBASE, END + 2*PGSIZE} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Free(%#x) did not panic", pa)
				}
			}()
			ka.Free(pa)
		}()
	}
}

func TestMemoryBounds(t *testing.T) {
	mem := NewMemory(1)
	for _, pa := range []uint64{KERNBASE - 1, mem.PHYSTOP()} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Page(%#x) did not panic", pa)
				}
			}()
			mem.Page(pa)
		}()
	}
	defer func() {
		if recover() == nil {
			t.Error("write across a page boundary did not panic")
		}
	}()
	mem.Write(END+PGSIZE-2, []byte("abc"))
}
