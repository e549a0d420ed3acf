// Copy Engine host interface contract — simulated backend
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mmiosim provides a deterministic, host-process implementation of
// hif.Accessor for tests and the cmd/cediag demo. The register file is
// backed by an anonymous mmap region (golang.org/x/sys/unix) rather than a
// plain Go slice, so register access goes through real page-granular
// memory-mapped semantics instead of being indistinguishable from ordinary
// heap access — the same concern a real PCI BAR mapping would have, without
// reaching for unsafe.Pointer arithmetic over a raw address to get there.
package mmiosim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// pageSize is the allocation granularity used for the simulated register
// file; one page is far larger than any single engine's register window
// but keeps the mapping aligned the way a real BAR mapping would be.
const pageSize = 4096

// WakeTimeout bounds how long Begin will wait for the simulated target to
// report itself awake before giving up.
var WakeTimeout = 100 * time.Millisecond

// Target is the simulated peer device side of the register file: whatever
// drives the simulator (sim.Target in the sim package, or a test) implements
// this to observe and react to writes, and to control whether the device
// reports itself awake.
type Target interface {
	// Awake reports whether the simulated target currently acknowledges
	// the wake signal.
	Awake() bool
}

// MMIO is a simulated memory-mapped register file.
type MMIO struct {
	mu   sync.Mutex
	mem  []byte
	size uint32

	target  Target
	limiter *rate.Limiter

	asserted bool
}

// New allocates a simulated register file of the given size (rounded up to
// a page) and binds it to a Target used to resolve the wake bracket. A nil
// Target always reports awake immediately, which is sufficient for tests
// that don't exercise the sleep/wake path.
func New(size uint32, target Target) (*MMIO, error) {
	if size == 0 {
		size = pageSize
	}

	mapSize := int((size + pageSize - 1) / pageSize * pageSize)

	mem, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmiosim: mmap: %w", err)
	}

	return &MMIO{
		mem:     mem,
		size:    size,
		target:  target,
		limiter: rate.NewLimiter(rate.Every(100*time.Microsecond), 1),
	}, nil
}

// Close releases the simulated register file's backing mapping.
func (m *MMIO) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mem == nil {
		return nil
	}

	err := unix.Munmap(m.mem)
	m.mem = nil

	return err
}

func (m *MMIO) checkOffset(offset uint32) {
	if offset+4 > m.size {
		panic(fmt.Sprintf("mmiosim: offset %#x out of range (size %#x)", offset, m.size))
	}
}

// Read32 reads a 32-bit register.
func (m *MMIO) Read32(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkOffset(offset)

	return uint32(m.mem[offset]) |
		uint32(m.mem[offset+1])<<8 |
		uint32(m.mem[offset+2])<<16 |
		uint32(m.mem[offset+3])<<24
}

// Write32 writes a 32-bit register.
func (m *MMIO) Write32(offset uint32, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkOffset(offset)

	m.mem[offset] = byte(val)
	m.mem[offset+1] = byte(val >> 8)
	m.mem[offset+2] = byte(val >> 16)
	m.mem[offset+3] = byte(val >> 24)
}

// Begin asserts the wake signal and polls, rate-limited, for the simulated
// target to acknowledge it.
func (m *MMIO) Begin() {
	m.mu.Lock()
	m.asserted = true
	target := m.target
	m.mu.Unlock()

	if target == nil {
		return
	}

	deadline := time.Now().Add(WakeTimeout)

	for !target.Awake() {
		if time.Now().After(deadline) {
			return
		}

		_ = m.limiter.Wait(context.Background())
	}
}

// End de-asserts the wake signal.
func (m *MMIO) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.asserted = false
}

// Asserted reports whether the wake signal is currently held, for tests
// that want to assert on the Begin/End bracket without racing the poll.
func (m *MMIO) Asserted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.asserted
}
