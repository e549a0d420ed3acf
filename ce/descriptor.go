// Copy Engine host/target DMA transport
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ce

import "encoding/binary"

// descSize is the on-wire size of a single descriptor: a 32-bit address
// followed by two 16-bit fields, little-endian, packed with no padding.
const descSize = 8

// Descriptor flag bits, within the 16-bit flags word.
const (
	flagGather    = 1 << 0
	flagByteSwap  = 1 << 1
	metaShift     = 3
	metaMask      = 0x1FFF // 13 bits
	metaBitsTotal = 16 - metaShift
)

// RecvFlags describes the flags surfaced to a recv callback on completion.
// Only the byte-swap bit is meaningful to callers; gather and metadata are
// send-side bookkeeping the destination ring does not use.
type RecvFlags uint8

// Swapped indicates the target byte-swapped the payload before DMA.
const Swapped RecvFlags = 1 << 0

// descriptor is the raw 8-byte wire structure shared with the target via
// DMA-coherent memory. Fields are decoded/encoded explicitly rather than via
// a packed Go struct layout, since the wire format is little-endian
// regardless of host byte order and must never depend on compiler struct
// layout decisions.
type descriptor struct {
	addr    uint32
	nbytes  uint16
	flags   uint16
}

// encode serializes the descriptor into its 8-byte wire representation.
func (d descriptor) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.addr)
	binary.LittleEndian.PutUint16(buf[4:6], d.nbytes)
	binary.LittleEndian.PutUint16(buf[6:8], d.flags)
}

// decodeDescriptor parses an 8-byte wire representation into a descriptor.
func decodeDescriptor(buf []byte) descriptor {
	return descriptor{
		addr:   binary.LittleEndian.Uint32(buf[0:4]),
		nbytes: binary.LittleEndian.Uint16(buf[4:6]),
		flags:  binary.LittleEndian.Uint16(buf[6:8]),
	}
}

// gather reports whether this descriptor is a non-terminal entry of a
// multi-descriptor gather send.
func (d descriptor) gather() bool {
	return d.flags&flagGather != 0
}

// byteSwap reports whether the byte-swap flag is set.
func (d descriptor) byteSwap() bool {
	return d.flags&flagByteSwap != 0
}

// transferID extracts the 13-bit caller-supplied metadata field.
func (d descriptor) transferID() uint16 {
	return (d.flags >> metaShift) & metaMask
}

// makeFlags packs gather/byte-swap bits and a transfer id, masked to its
// 13-bit field, into a descriptor flags word.
func makeFlags(gather, byteSwap bool, transferID uint16) uint16 {
	var f uint16

	if gather {
		f |= flagGather
	}
	if byteSwap {
		f |= flagByteSwap
	}

	f |= (transferID & metaMask) << metaShift

	return f
}

// recvFlags maps a descriptor's on-wire flags to the subset surfaced to a
// recv callback.
func recvFlags(d descriptor) RecvFlags {
	var f RecvFlags

	if d.byteSwap() {
		f |= Swapped
	}

	return f
}
