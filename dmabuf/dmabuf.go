// Copy Engine DMA-coherent allocator contract
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dmabuf defines the DMA-coherent allocator contract the ce package
// relies on but does not implement, plus a concrete first-fit allocator
// adapted from the platform's own bare-metal DMA region allocator.
//
// The original allocator aliases a single host address space directly as
// the bus address (tamago runs bare metal, with no MMU translation between
// the two). This port runs hosted, so it keeps the same first-fit block
// bookkeeping but treats "host" and "bus" as two views of one backing
// []byte-addressed arena: the host address is a byte offset into the
// returned slice, and the bus address is a caller-visible handle with the
// same numeric value — kept distinct in the API so call sites never
// conflate "address a descriptor points the target at" with "address the
// host dereferences", per the opaque-handle design note in SPEC_FULL.md.
package dmabuf

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfMemory is returned when no free block satisfies a request.
var ErrOutOfMemory = errors.New("dmabuf: out of memory")

// Allocator is the DMA-coherent memory contract: allocate N bytes with a
// given alignment, returning both a host-addressable buffer and the bus
// address the target should be told about; free by bus address.
type Allocator interface {
	// Alloc reserves size bytes aligned to align (must be a power of two;
	// 0 means no alignment constraint at all), and
	// returns the bus address together with a host-addressable view of
	// the same memory.
	Alloc(size int, align int) (busAddr uint32, buf []byte, err error)

	// Free releases memory previously returned by Alloc.
	Free(busAddr uint32)
}

type block struct {
	addr uint32
	size int
}

// Region is a first-fit DMA-coherent memory allocator over a fixed backing
// arena, adapted from the platform's bare-metal dma.Region: a free list of
// blocks plus a used-block index, both protected by one mutex. Unlike the
// original, Region never touches raw pointers — it slices into a
// pre-allocated Go byte arena, since a hosted process has no business
// pretending arbitrary integers are dereferenceable addresses.
type Region struct {
	mu sync.Mutex

	arena []byte

	freeBlocks *list.List
	usedBlocks map[uint32]*block
}

// NewRegion allocates a Region backed by a size-byte arena. The arena itself
// is ordinary Go heap memory; a real coherent-memory-backed Allocator (e.g.
// one backed by a real mmap'd device region) can implement the same
// Allocator interface without reusing Region at all.
func NewRegion(size int) *Region {
	r := &Region{
		arena:      make([]byte, size),
		freeBlocks: list.New(),
		usedBlocks: make(map[uint32]*block),
	}

	r.freeBlocks.PushFront(&block{addr: 0, size: size})

	return r
}

// Alloc implements Allocator.
func (r *Region) Alloc(size int, align int) (uint32, []byte, error) {
	if size <= 0 {
		return 0, nil, fmt.Errorf("dmabuf: invalid size %d", size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.alloc(size, align)
	if err != nil {
		return 0, nil, err
	}

	r.usedBlocks[b.addr] = b

	return b.addr, r.arena[b.addr : b.addr+uint32(size)], nil
}

// View returns a host-addressable slice of n bytes at bus address addr,
// without tracking it as an allocation. It exists for collaborators that
// need to reach into the same coherent arena a ring or buffer was allocated
// from by its bus address alone — the simulated target in package sim being
// the only caller in this module, standing in for what a real bus master
// does when it dereferences an address the host handed it.
func (r *Region) View(addr uint32, n int) []byte {
	return r.arena[addr : addr+uint32(n)]
}

// Free implements Allocator.
func (r *Region) Free(addr uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.usedBlocks[addr]
	if !ok {
		return
	}

	delete(r.usedBlocks, addr)
	r.free(b)
}

// alloc finds (and if necessary splits) a free block of at least size bytes
// whose address, after accounting for alignment padding, satisfies align.
// Mirrors dma.alloc's first-fit-then-split strategy.
func (r *Region) alloc(origSize int, align int) (*block, error) {
	size := origSize
	if align > 0 {
		size += align
	}

	var e *list.Element
	var free *block

	for e = r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.size >= size {
			free = b
			break
		}
	}

	if free == nil {
		return nil, ErrOutOfMemory
	}

	defer r.freeBlocks.Remove(e)

	if size < free.size {
		after := &block{addr: free.addr + uint32(size), size: free.size - size}
		free.size = size
		r.freeBlocks.InsertAfter(after, e)
	}

	if align > 0 {
		if rem := int(free.addr) & (align - 1); rem != 0 {
			offset := align - rem

			before := &block{addr: free.addr, size: offset}
			free.addr += uint32(offset)
			free.size -= offset
			r.freeBlocks.InsertBefore(before, e)
		}

		if free.size > origSize {
			after := &block{addr: free.addr + uint32(origSize), size: free.size - origSize}
			free.size = origSize
			r.freeBlocks.InsertAfter(after, e)
		}
	}

	return free, nil
}

// free returns a block to the free list in address order and merges it with
// adjacent free blocks, mirroring dma.free/defrag.
func (r *Region) free(used *block) {
	for e := r.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.addr > used.addr {
			r.freeBlocks.InsertBefore(used, e)
			r.defrag()
			return
		}
	}

	r.freeBlocks.PushBack(used)
	r.defrag()
}

func (r *Region) defrag() {
	var prev *block

	for e := r.freeBlocks.Front(); e != nil; {
		b := e.Value.(*block)
		next := e.Next()

		if prev != nil && prev.addr+uint32(prev.size) == b.addr {
			prev.size += b.size
			r.freeBlocks.Remove(e)
		} else {
			prev = b
		}

		e = next
	}
}
