package ce

import (
	"testing"

	"github.com/wlanhost/ce/dmabuf"
)

func TestRoundUpPow2(t *testing.T) {
	cases := map[int]uint32{
		0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 7: 8, 8: 8, 9: 16, 1000: 1024,
	}

	for n, want := range cases {
		if got := roundUpPow2(n); got != want {
			t.Errorf("roundUpPow2(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestRingFreeSlotsAndOccupied(t *testing.T) {
	alloc := dmabuf.NewRegion(4096)

	var r ring
	if err := r.init(alloc, 4); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer r.free()

	if r.nentries != 4 || r.mask != 3 {
		t.Fatalf("nentries=%d mask=%d, want 4/3", r.nentries, r.mask)
	}

	// one slot is always kept empty: an nentries=4 ring has 3 usable slots
	if got := r.freeSlots(); got != 3 {
		t.Fatalf("freeSlots() = %d, want 3", got)
	}
	if got := r.occupied(); got != 0 {
		t.Fatalf("occupied() = %d, want 0", got)
	}

	r.writeIndex = (r.writeIndex + 3) & r.mask // fill all usable slots
	if got := r.freeSlots(); got != 0 {
		t.Fatalf("freeSlots() after fill = %d, want 0", got)
	}
	if got := r.occupied(); got != 3 {
		t.Fatalf("occupied() after fill = %d, want 3", got)
	}

	r.swIndex = (r.swIndex + 2) & r.mask // drain two
	if got := r.freeSlots(); got != 2 {
		t.Fatalf("freeSlots() after drain = %d, want 2", got)
	}
	if got := r.occupied(); got != 1 {
		t.Fatalf("occupied() after drain = %d, want 1", got)
	}
}

func TestRingWrapsAroundPastNentries(t *testing.T) {
	alloc := dmabuf.NewRegion(4096)

	var r ring
	if err := r.init(alloc, 4); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer r.free()

	r.swIndex = 3
	r.writeIndex = (r.swIndex + 5) & r.mask // wraps past nentries twice

	if got := r.occupied(); got != 5&r.mask {
		t.Fatalf("occupied() = %d, want %d", got, 5&r.mask)
	}
}

func TestSourceRingShadowIndependentOfDMABuffer(t *testing.T) {
	alloc := dmabuf.NewRegion(4096)

	sr := &sourceRing{}
	if err := sr.init(alloc, 4); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer sr.free()

	d := descriptor{addr: 0x42, nbytes: 10, flags: 0}
	d.encode(sr.shadowAt(0))

	// the DMA-coherent descriptor array is untouched by a shadow write
	if sr.descAt(0)[0] != 0 {
		t.Fatalf("writing shadow mutated the DMA descriptor array")
	}

	got := decodeDescriptor(sr.shadowAt(0))
	if got != d {
		t.Fatalf("shadowAt round-trip = %+v, want %+v", got, d)
	}
}
