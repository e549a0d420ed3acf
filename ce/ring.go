// Copy Engine host/target DMA transport
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ce

import (
	"fmt"

	"github.com/wlanhost/ce/dmabuf"
)

// descAlign is the alignment, in bytes, required for the descriptor ring's
// DMA-coherent backing memory (and the source ring's shadow copy).
const descAlign = 8

// ring holds the index bookkeeping and backing storage common to both the
// source and destination rings. Index arithmetic is ring-relative: "free
// capacity" and "occupied slots" are both expressed as distances modulo
// nentries, never as an absolute comparison of the three cursors.
type ring struct {
	nentries uint32
	mask     uint32

	swIndex    uint32
	writeIndex uint32

	allocator dmabuf.Allocator
	busAddr   uint32
	desc      []byte // DMA-coherent descriptor array, descSize*nentries bytes

	ctx []Context // per-transfer context, parallel to desc slots
}

// roundUpPow2 rounds n up to the next power of two (n itself if already one).
func roundUpPow2(n int) uint32 {
	if n <= 1 {
		return 1
	}

	v := uint32(n - 1)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16

	return v + 1
}

// init rounds nentries up to a power of two and allocates the descriptor
// array and context slots for that many descriptors.
func (r *ring) init(allocator dmabuf.Allocator, nentries int) error {
	r.nentries = roundUpPow2(nentries)
	r.mask = r.nentries - 1
	r.allocator = allocator
	r.ctx = make([]Context, r.nentries)

	size := int(r.nentries) * descSize

	busAddr, buf, err := allocator.Alloc(size, descAlign)
	if err != nil {
		return fmt.Errorf("ce: allocate descriptor ring: %w", err)
	}

	r.busAddr = busAddr
	r.desc = buf

	return nil
}

// free releases the descriptor array back to the allocator.
func (r *ring) free() {
	if r.allocator != nil && r.desc != nil {
		r.allocator.Free(r.busAddr)
	}

	r.desc = nil
	r.ctx = nil
}

// occupied returns the number of slots holding posted-but-not-yet-completed
// descriptors, i.e. the distance from swIndex to writeIndex.
func (r *ring) occupied() uint32 {
	return (r.writeIndex - r.swIndex) & r.mask
}

// freeSlots returns the number of descriptor slots available for posting.
// One slot is always kept empty so writeIndex can never catch up to
// swIndex from behind (an invariant inherited from the reference driver).
func (r *ring) freeSlots() uint32 {
	return (r.swIndex - r.writeIndex - 1) & r.mask
}

// descAt returns the nentries*descSize-relative byte slice for slot i of
// the DMA-coherent descriptor array.
func (r *ring) descAt(i uint32) []byte {
	off := int(i) * descSize
	return r.desc[off : off+descSize]
}

// sourceRing is the host-producer / target-consumer ring for outgoing
// buffers. It additionally tracks hwIndex (a cached copy of the target's
// read pointer) and owns a host-private shadow descriptor array so
// completions can be read from cached RAM instead of DMA-coherent memory.
type sourceRing struct {
	ring

	hwIndex uint32
	shadow  []byte
}

func (sr *sourceRing) init(allocator dmabuf.Allocator, nentries int) error {
	if err := sr.ring.init(allocator, nentries); err != nil {
		return err
	}

	sr.shadow = make([]byte, len(sr.desc))

	return nil
}

func (sr *sourceRing) free() {
	sr.ring.free()
	sr.shadow = nil
}

// shadowAt returns the shadow-array byte slice for slot i.
func (sr *sourceRing) shadowAt(i uint32) []byte {
	off := int(i) * descSize
	return sr.shadow[off : off+descSize]
}

// destRing is the host-posts-empties / target-fills-them ring for inbound
// buffers. It has no shadow: completions are detected by reading the
// DMA-coherent nbytes field directly, which is the source of the
// nbytes==0 race gate documented in SPEC_FULL.md §4.3 and §8.
type destRing struct {
	ring
}
