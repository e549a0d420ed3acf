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
	"log"
)

// State is an engine's lifecycle state.
type State int

const (
	Unused State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "invalid"
	}
}

// SendlistItemsMax bounds the number of entries a SendList may accumulate
// before SendlistSend, matching the reference driver's
// CE_SENDLIST_ITEMS_MAX.
const SendlistItemsMax = 12

// Attr configures an Engine at Init time. Rings are allocated lazily: a
// zero NEntries on either side means that side is not used by this engine.
type Attr struct {
	// SrcNEntries is the requested source ring depth; 0 disables the
	// source ring for this engine. Rounded up to a power of two.
	SrcNEntries int

	// DestNEntries is the requested destination ring depth; 0 disables
	// the destination ring for this engine. Rounded up to a power of two.
	DestNEntries int

	// SrcSzMax is the maximum payload size, in bytes, a single Send may
	// carry. Violations are logged, not rejected (spec §7).
	SrcSzMax int

	// SrcByteSwap and DestByteSwap request the engine byte-swap payloads
	// in each direction.
	SrcByteSwap  bool
	DestByteSwap bool
}

// SendCB is invoked once per harvested send completion.
type SendCB func(e *Engine, ctx Context, buf uint32, nbytes int, transferID uint16)

// RecvCB is invoked once per harvested receive completion.
type RecvCB func(e *Engine, ctx Context, buf uint32, nbytes int, transferID uint16, flags RecvFlags)

// Engine is the per-engine facade: configuration, callback registration,
// interrupt-mask bookkeeping, and the send/recv API. The exported ring and
// registration methods take the owning Device's lock; the *Locked variants
// in this file expect it held and are what the ISR drain loop in isr.go
// calls.
type Engine struct {
	device *Device

	id       int
	state    State
	attr     Attr
	ctrlAddr uint32

	src  *sourceRing
	dest *destRing

	sendCB           SendCB
	recvCB           RecvCB
	disableCopyCompl bool
}

// ID returns the engine's index (0..CECountMax-1).
func (e *Engine) ID() int { return e.id }

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Stats is a point-in-time snapshot of one engine's ring occupancy, for
// diagnostics consumers (package diag) that have no business reaching into
// ring internals directly.
type Stats struct {
	SrcNEntries  int
	SrcOccupied  int
	DestNEntries int
	DestOccupied int
}

// Stats returns a snapshot of the engine's current ring occupancy. A nil
// src or dest ring (that direction unused by this engine) reports zero for
// both its fields.
func (e *Engine) Stats() Stats {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	var s Stats

	if e.src != nil {
		s.SrcNEntries = int(e.src.nentries)
		s.SrcOccupied = int(e.src.occupied())
	}

	if e.dest != nil {
		s.DestNEntries = int(e.dest.nentries)
		s.DestOccupied = int(e.dest.occupied())
	}

	return s
}

// regRead and regWrite are convenience wrappers binding the device's
// accessor to this engine's control base address.
func (e *Engine) regRead(offset uint32) uint32 {
	return e.device.accessor.Read32(e.ctrlAddr + offset)
}

func (e *Engine) regWrite(offset uint32, val uint32) {
	e.device.accessor.Write32(e.ctrlAddr+offset, val)
}

// initLocked performs engine initialization; the caller holds d.lock.
func (e *Engine) initLocked() error {
	t := e.device.table

	e.device.accessor.Begin()
	defer e.device.accessor.End()

	if e.attr.SrcNEntries > 0 {
		e.src = &sourceRing{}

		if err := e.src.init(e.device.allocator, e.attr.SrcNEntries); err != nil {
			return fmt.Errorf("source ring: %w", err)
		}

		e.src.swIndex = e.regRead(t.CurrentSRRI) & e.src.mask
		e.src.hwIndex = e.src.swIndex
		e.src.writeIndex = e.regRead(t.SRWriteIndex) & e.src.mask

		e.regWrite(t.SRBase, e.src.busAddr)
		e.regWrite(t.SRSize, e.src.nentries)

		ctrl1 := uint32(e.attr.SrcSzMax) & 0xFFFF
		if e.attr.SrcByteSwap {
			ctrl1 |= 1 << 16
		}
		if e.attr.DestByteSwap {
			ctrl1 |= 1 << 17
		}
		e.regWrite(t.Ctrl1, ctrl1)

		e.regWrite(t.SRWatermark, 0)
	}

	if e.attr.DestNEntries > 0 {
		e.dest = &destRing{}

		if err := e.dest.init(e.device.allocator, e.attr.DestNEntries); err != nil {
			if e.src != nil {
				e.src.free()
			}
			return fmt.Errorf("dest ring: %w", err)
		}

		e.dest.swIndex = e.regRead(t.CurrentDRRI) & e.dest.mask
		e.dest.writeIndex = e.regRead(t.DSTWriteIndex) & e.dest.mask

		e.regWrite(t.DSTBase, e.dest.busAddr)
		e.regWrite(t.DSTSize, e.dest.nentries)

		e.regWrite(t.DSTWatermark, 0)
	}

	// enable CE error interrupts at the engine level
	e.regWrite(t.MiscIE, 0xFFFFFFFF)

	return nil
}

// deinitLocked frees engine resources; the caller holds d.lock and is
// responsible for having stopped target DMA beforehand.
func (e *Engine) deinitLocked() {
	e.state = Unused

	if e.src != nil {
		e.src.free()
		e.src = nil
	}

	if e.dest != nil {
		e.dest.free()
		e.dest = nil
	}
}

// Send posts one buffer to the source ring. If the send is not a gather
// continuation, it publishes the new write index to the target
// immediately; gather continuations defer that publish to the final item
// of the group (see SendlistSend), so the target wakes once per logical
// send rather than once per descriptor.
func (e *Engine) Send(ctx Context, bufferBusAddr uint32, nbytes int, transferID uint16, gather, byteSwap bool) error {
	d := e.device

	d.lock.Lock()
	defer d.lock.Unlock()

	return e.sendLocked(ctx, bufferBusAddr, nbytes, transferID, gather, byteSwap)
}

func (e *Engine) sendLocked(ctx Context, bufferBusAddr uint32, nbytes int, transferID uint16, gather, byteSwap bool) error {
	if e.src == nil {
		return fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	if e.attr.SrcSzMax > 0 && nbytes > e.attr.SrcSzMax {
		log.Printf("ce%d: send: nbytes %d exceeds src_sz_max %d", e.id, nbytes, e.attr.SrcSzMax)
	}

	sr := e.src

	if sr.freeSlots() == 0 {
		return fmt.Errorf("ce%d: send: %w", e.id, ErrNoResources)
	}

	idx := sr.writeIndex

	desc := descriptor{
		addr:   bufferBusAddr,
		nbytes: uint16(nbytes),
		flags:  makeFlags(gather, byteSwap, transferID),
	}

	desc.encode(sr.shadowAt(idx))
	copy(sr.descAt(idx), sr.shadowAt(idx))

	sr.ctx[idx] = ctx
	sr.writeIndex = (sr.writeIndex + 1) & sr.mask

	if !gather {
		e.device.accessor.Begin()
		e.regWrite(e.device.table.SRWriteIndex, sr.writeIndex)
		e.device.accessor.End()
	}

	return nil
}

// SendList is a caller-owned staging buffer for a multi-buffer gather send,
// built with SendlistBufAdd and posted atomically with SendlistSend.
type SendList struct {
	items []sendItem
}

type sendItem struct {
	buf      uint32
	nbytes   int
	byteSwap bool
}

// SendlistBufAdd appends one buffer to the list. It is pure host-side
// bookkeeping: nothing touches the ring or the device lock until
// SendlistSend.
func (l *SendList) SendlistBufAdd(buffer uint32, nbytes int, byteSwap bool) error {
	if len(l.items) >= SendlistItemsMax {
		return ErrSendlistFull
	}

	l.items = append(l.items, sendItem{buf: buffer, nbytes: nbytes, byteSwap: byteSwap})

	return nil
}

// Len returns the number of buffers staged in the list.
func (l *SendList) Len() int { return len(l.items) }

// SendlistSend posts every item of list atomically: either all descriptors
// land, with the per-item context set to SendlistItem for all but the
// final (caller-supplied ctx) descriptor, or none do. Capacity is checked
// up front so a failure never leaves partial state (spec invariant 4).
func (e *Engine) SendlistSend(ctx Context, list *SendList, transferID uint16) error {
	d := e.device

	d.lock.Lock()
	defer d.lock.Unlock()

	if e.src == nil {
		return fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	n := list.Len()
	if n == 0 {
		return fmt.Errorf("ce%d: sendlist: empty list", e.id)
	}

	if e.src.freeSlots() < uint32(n) {
		return fmt.Errorf("ce%d: sendlist: %w", e.id, ErrNoMemory)
	}

	for i, item := range list.items {
		last := i == n-1

		itemCtx := Context(SendlistItem)
		if last {
			itemCtx = ctx
		}

		if err := e.sendLocked(itemCtx, item.buf, item.nbytes, transferID, !last, item.byteSwap); err != nil {
			// capacity was already verified above under the same
			// lock, so this should not happen; surface it rather
			// than leaving the ring half-published.
			return fmt.Errorf("ce%d: sendlist: item %d: %w", e.id, i, err)
		}
	}

	return nil
}

// CompletedSendNext harvests one completed send descriptor, refreshing the
// cached target read index from MMIO only when the cache has been fully
// consumed.
func (e *Engine) CompletedSendNext() (ctx Context, buf uint32, nbytes int, transferID uint16, err error) {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	return e.completedSendNextLocked()
}

func (e *Engine) completedSendNextLocked() (ctx Context, buf uint32, nbytes int, transferID uint16, err error) {
	if e.src == nil {
		return nil, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	sr := e.src

	if sr.hwIndex == sr.swIndex {
		e.device.accessor.Begin()
		sr.hwIndex = e.regRead(e.device.table.CurrentSRRI)
		e.device.accessor.End()

		if sr.hwIndex != 0xFFFFFFFF {
			sr.hwIndex &= sr.mask
		}
	}

	if sr.hwIndex == 0xFFFFFFFF {
		return nil, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrDeviceGone)
	}

	if sr.hwIndex == sr.swIndex {
		return nil, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrNoResources)
	}

	idx := sr.swIndex

	desc := decodeDescriptor(sr.shadowAt(idx))
	ctx = sr.ctx[idx]
	sr.ctx[idx] = nil

	sr.swIndex = (sr.swIndex + 1) & sr.mask

	return ctx, desc.addr, int(desc.nbytes), desc.transferID(), nil
}

// CancelSendNext consumes one un-issued source entry during shutdown: a
// slot that was posted (between swIndex and writeIndex) but never
// completed by the target. It does not rewind writeIndex — per the
// reference driver (and SPEC_FULL.md's open-question resolution), the slot
// is freed purely by advancing swIndex past it. It is only valid once the
// caller has externally halted target DMA, and unlike Send/CompletedSendNext
// it does not take the hif wake bracket (spec §9).
func (e *Engine) CancelSendNext() (ctx Context, buf uint32, nbytes int, transferID uint16, err error) {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	if e.src == nil {
		return nil, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	sr := e.src

	if sr.swIndex == sr.writeIndex {
		return nil, 0, 0, 0, fmt.Errorf("ce%d: cancel: %w", e.id, ErrNoResources)
	}

	idx := sr.swIndex

	desc := decodeDescriptor(sr.shadowAt(idx))
	ctx = sr.ctx[idx]
	sr.ctx[idx] = nil

	sr.swIndex = (sr.swIndex + 1) & sr.mask

	return ctx, desc.addr, int(desc.nbytes), desc.transferID(), nil
}

// RecvBufEnqueue posts one empty buffer to the destination ring. Unlike
// Send, the MMIO write index is published immediately — there is no
// batching on the recv side.
func (e *Engine) RecvBufEnqueue(ctx Context, bufferBusAddr uint32) error {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	if e.dest == nil {
		return fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	dr := e.dest

	if dr.freeSlots() == 0 {
		return fmt.Errorf("ce%d: recv_buf_enqueue: %w", e.id, ErrNoResources)
	}

	idx := dr.writeIndex

	desc := descriptor{addr: bufferBusAddr, nbytes: 0, flags: 0}
	desc.encode(dr.descAt(idx))

	dr.ctx[idx] = ctx
	dr.writeIndex = (dr.writeIndex + 1) & dr.mask

	e.device.accessor.Begin()
	e.regWrite(e.device.table.DSTWriteIndex, dr.writeIndex)
	e.device.accessor.End()

	return nil
}

// CompletedRecvNext harvests one completed receive descriptor. The
// destination ring has no shadow, so this reads DMA-coherent memory
// directly; the gate for "is this slot done" is nbytes != 0, not a ring
// index comparison, because the target's read-index advance can be
// observed before its descriptor write lands (spec §4.3, §8 invariant 7).
func (e *Engine) CompletedRecvNext() (ctx Context, buf uint32, nbytes int, transferID uint16, flags RecvFlags, err error) {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	return e.completedRecvNextLocked()
}

func (e *Engine) completedRecvNextLocked() (ctx Context, buf uint32, nbytes int, transferID uint16, flags RecvFlags, err error) {
	if e.dest == nil {
		return nil, 0, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	dr := e.dest
	idx := dr.swIndex

	desc := decodeDescriptor(dr.descAt(idx))

	if desc.nbytes == 0 {
		return nil, 0, 0, 0, 0, fmt.Errorf("ce%d: %w", e.id, ErrNoResources)
	}

	// arm the slot for reuse
	zero := descriptor{addr: desc.addr, nbytes: 0, flags: desc.flags}
	zero.encode(dr.descAt(idx))

	ctx = dr.ctx[idx]
	dr.ctx[idx] = nil

	dr.swIndex = (dr.swIndex + 1) & dr.mask

	return ctx, desc.addr, int(desc.nbytes), desc.transferID(), recvFlags(desc), nil
}

// RevokeRecvNext returns the buffer posted at the next unfilled destination
// slot during shutdown, so the caller can free it. It assumes the target is
// already asleep and, like CancelSendNext, does not take the hif wake
// bracket (spec §9).
func (e *Engine) RevokeRecvNext() (ctx Context, buf uint32, err error) {
	e.device.lock.Lock()
	defer e.device.lock.Unlock()

	if e.dest == nil {
		return nil, 0, fmt.Errorf("ce%d: %w", e.id, ErrInvalidEngine)
	}

	dr := e.dest

	if dr.swIndex == dr.writeIndex {
		return nil, 0, fmt.Errorf("ce%d: revoke: %w", e.id, ErrNoResources)
	}

	idx := dr.swIndex

	desc := decodeDescriptor(dr.descAt(idx))
	ctx = dr.ctx[idx]
	dr.ctx[idx] = nil

	dr.swIndex = (dr.swIndex + 1) & dr.mask

	return ctx, desc.addr, nil
}
