package dmabuf

import (
	"errors"
	"testing"
)

func TestAllocFreeBasic(t *testing.T) {
	r := NewRegion(4096)

	addr, buf, err := r.Alloc(128, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(buf) != 128 {
		t.Fatalf("len(buf) = %d, want 128", len(buf))
	}

	buf[0] = 0xAB
	if r.arena[addr] != 0xAB {
		t.Fatalf("buf is not a view into the arena at addr %d", addr)
	}

	r.Free(addr)

	// freeing an already-freed address is a silent no-op, not a panic
	r.Free(addr)
}

func TestAllocRespectsAlignment(t *testing.T) {
	r := NewRegion(4096)

	// force a leading misalignment: allocate 3 bytes first so the next
	// free block starts at an address unlikely to already satisfy align.
	if _, _, err := r.Alloc(3, 0); err != nil {
		t.Fatalf("Alloc(3): %v", err)
	}

	addr, _, err := r.Alloc(64, 64)
	if err != nil {
		t.Fatalf("Alloc(64, align=64): %v", err)
	}

	if addr%64 != 0 {
		t.Fatalf("addr %d not aligned to 64", addr)
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	r := NewRegion(64)

	if _, _, err := r.Alloc(128, 0); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc(128) on a 64-byte region: err = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocInvalidSize(t *testing.T) {
	r := NewRegion(64)

	if _, _, err := r.Alloc(0, 0); err == nil {
		t.Fatal("Alloc(0) expected an error")
	}
	if _, _, err := r.Alloc(-1, 0); err == nil {
		t.Fatal("Alloc(-1) expected an error")
	}
}

func TestFreeMergesAdjacentBlocks(t *testing.T) {
	r := NewRegion(256)

	a, _, err := r.Alloc(64, 0)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	b, _, err := r.Alloc(64, 0)
	if err != nil {
		t.Fatalf("Alloc b: %v", err)
	}
	c, _, err := r.Alloc(64, 0)
	if err != nil {
		t.Fatalf("Alloc c: %v", err)
	}

	r.Free(a)
	r.Free(c)
	r.Free(b) // merges a+b+c and the 64-byte tail back into one 256-byte block

	addr, _, err := r.Alloc(256, 0)
	if err != nil {
		t.Fatalf("Alloc(256) after freeing everything: %v", err)
	}
	if addr != 0 {
		t.Fatalf("Alloc(256) addr = %d, want 0 (fully defragmented)", addr)
	}
}

func TestAllocReusesFreedBlockFirstFit(t *testing.T) {
	r := NewRegion(256)

	a, _, err := r.Alloc(32, 0)
	if err != nil {
		t.Fatalf("Alloc a: %v", err)
	}
	if _, _, err := r.Alloc(32, 0); err != nil {
		t.Fatalf("Alloc b: %v", err)
	}

	r.Free(a)

	addr, _, err := r.Alloc(16, 0)
	if err != nil {
		t.Fatalf("Alloc(16): %v", err)
	}
	if addr != a {
		t.Fatalf("Alloc(16) addr = %d, want %d (first-fit reuse of freed block)", addr, a)
	}
}
