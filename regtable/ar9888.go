// Copy Engine silicon register tables
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package regtable holds per-silicon-revision register offset tables for
// the Copy Engine. These are data, not logic: a struct literal per
// revision, trivially ported from the reference driver's own def tables
// (ar9888_regtable.c and friends). The ce package only ever consumes a
// Table value; it has no notion of which silicon revision it is talking to.
package regtable

// Table describes the per-engine MMIO layout and the device-wide wrapper
// register for one silicon revision. Per-engine register offsets (the
// fields from SRBase on) are relative to an individual engine's control
// base, computed as CE0Base + id*(CE1Base-CE0Base).
type Table struct {
	// Name identifies the silicon revision this table describes.
	Name string

	// CE0Base and CE1Base are the MMIO base addresses of copy engine 0
	// and 1; every other engine's control base is a linear extrapolation
	// from the spacing between them.
	CE0Base uint32
	CE1Base uint32

	// WrapperBase is the device-level register holding the interrupt
	// summary bitmap (one bit per engine, in bits 8..15).
	WrapperBase uint32

	// Per-engine register offsets, relative to that engine's control base.
	SRBase        uint32 // source ring base address (bus)
	SRSize        uint32 // source ring size (entries)
	DSTBase       uint32 // destination ring base address (bus)
	DSTSize       uint32 // destination ring size (entries)
	Ctrl1         uint32 // DMAX length / byte-swap mode bits
	Command       uint32 // halt / halt-status
	HostIE        uint32 // interrupt enable (copy-complete)
	HostIS        uint32 // interrupt status (copy-complete + watermarks)
	MiscIE        uint32 // misc interrupt enable (error mask)
	MiscIS        uint32 // misc interrupt status
	SRWriteIndex  uint32 // source ring write index (host-owned)
	DSTWriteIndex uint32 // destination ring write index (host-owned)
	CurrentSRRI   uint32 // current source read index (target-owned)
	CurrentDRRI   uint32 // current destination read index (target-owned)
	SRWatermark   uint32 // source ring watermarks
	DSTWatermark  uint32 // destination ring watermarks
}

// Bit positions within HostIS / HostIE.
const (
	CopyCompleteBit = 0
	SrcHighWMBit    = 1
	SrcLowWMBit     = 2
	DstHighWMBit    = 3
	DstLowWMBit     = 4
)

// Bit positions within Command.
const (
	HaltBit       = 0
	HaltStatusBit = 3
)

// WrapperSummaryShift and WrapperSummaryMask extract the per-engine pending
// bitmap from the wrapper interrupt summary register: engine id i's bit is
// at position WrapperSummaryShift+i.
const (
	WrapperSummaryShift = 8
	WrapperSummaryMask  = 0xFF
)

// AR9888 is the register table for the AR9888 silicon revision, ported from
// ar9888_regtable.c / regtable.h. The per-engine offsets match the generic
// Copy Engine layout documented for every revision this family supports;
// only the base addresses vary revision to revision.
var AR9888 = Table{
	Name:        "ar9888",
	CE0Base:     0x00057400,
	CE1Base:     0x00057800,
	WrapperBase: 0x00057000,

	SRBase:        0x00,
	SRSize:        0x04,
	DSTBase:       0x08,
	DSTSize:       0x0C,
	Ctrl1:         0x10,
	Command:       0x18,
	HostIE:        0x2C,
	HostIS:        0x30,
	MiscIE:        0x34,
	MiscIS:        0x38,
	SRWriteIndex:  0x3C,
	DSTWriteIndex: 0x40,
	CurrentSRRI:   0x44,
	CurrentDRRI:   0x48,
	SRWatermark:   0x4C,
	DSTWatermark:  0x50,
}

// CtrlAddr computes the MMIO control base address for engine id under this
// table's CE0Base/CE1Base pair.
func (t Table) CtrlAddr(id int) uint32 {
	stride := t.CE1Base - t.CE0Base
	return t.CE0Base + uint32(id)*stride
}
