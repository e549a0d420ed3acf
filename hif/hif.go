// Copy Engine host interface contract
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hif defines the host interface contract the ce package relies on
// but does not implement: register access to a memory-mapped peer device,
// and the wake/sleep bracketing around any critical section that touches
// those registers.
//
// A real binding (PCI, AHB, whatever the interconnect is) lives outside this
// module; this package only fixes the shape callers of ce.NewDevice must
// satisfy, plus a deterministic simulated implementation (mmiosim) used by
// this module's own tests and by the sim and cmd/cediag tooling.
package hif

// Accessor is the MMIO contract the Copy Engine is built on: 32-bit
// register read/write, plus a wake/sleep bracket that must be held around
// any sequence of register accesses that needs the target awake to
// observe them.
//
// Implementations must be safe for concurrent use; the ce package serializes
// all register traffic for one device under its own lock, but the wake
// bracket itself may be shared across unrelated devices in a real system.
type Accessor interface {
	// Read32 reads a 32-bit register at the given offset.
	Read32(offset uint32) uint32

	// Write32 writes a 32-bit register at the given offset.
	Write32(offset uint32, val uint32)

	// Begin asserts the "keep awake" signal to the target and blocks
	// until the target acknowledges it, or the accessor gives up. It
	// must be called before any register access in a critical section
	// and paired with a matching End.
	Begin()

	// End de-asserts the "keep awake" signal. It must be called exactly
	// once for every successful Begin.
	End()
}
