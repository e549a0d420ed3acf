// Copy Engine host/target DMA transport — simulated wireless target
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim simulates the silicon side of one Copy Engine: the other end
// of the shared DMA-coherent arena and the MMIO register file mmiosim hands
// to the host, standing in for a real wireless target so the ce package can
// be exercised end to end without hardware. Frames crossing the source ring
// are surfaced on a gvisor channel.Endpoint as if received over the air;
// frames written to that endpoint are delivered into posted destination-ring
// buffers as if received over the air by the target.
package sim

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/buffer"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/wlanhost/ce/dmabuf"
	"github.com/wlanhost/ce/hif/mmiosim"
	"github.com/wlanhost/ce/regtable"
)

const (
	linkQueueDepth = 256
	linkMTU        = 1500

	descSize = 8

	pollInterval = time.Millisecond
)

// rawDesc is package sim's own copy of the 8-byte wire descriptor layout
// (addr/nbytes/flags, little-endian). It deliberately does not import the ce
// package's unexported descriptor type: the target side of the wire only
// needs to agree on the byte layout documented in SPEC_FULL.md §3, not share
// Go types with the host side it is simulating.
type rawDesc struct {
	addr   uint32
	nbytes uint16
	flags  uint16
}

func decodeRawDesc(b []byte) rawDesc {
	return rawDesc{
		addr:   binary.LittleEndian.Uint32(b[0:4]),
		nbytes: binary.LittleEndian.Uint16(b[4:6]),
		flags:  binary.LittleEndian.Uint16(b[6:8]),
	}
}

func (d rawDesc) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], d.addr)
	binary.LittleEndian.PutUint16(b[4:6], d.nbytes)
	binary.LittleEndian.PutUint16(b[6:8], d.flags)
}

// Target simulates the silicon side of one Copy Engine instance.
type Target struct {
	mmio     *mmiosim.MMIO
	region   *dmabuf.Region
	table    regtable.Table
	ctrlAddr uint32

	host   net.HardwareAddr // the host's MAC, as seen in frames crossing the ring
	device net.HardwareAddr // this target's own MAC

	link *channel.Endpoint

	mu      sync.Mutex
	srRead  uint32 // target's read cursor into the source ring
	dstFill uint32 // target's fill cursor into the destination ring

	stop chan struct{}
}

// New creates a Target bound to engine id's control registers, the
// DMA-coherent arena region shares with the host, and a fresh gvisor channel
// endpoint addressed as linkAddr. host and device are the MAC addresses
// stamped into (and parsed from) the synthetic Ethernet frames exchanged
// across the rings, mirroring the reference NIC's Host/Device address pair.
//
// The register file itself is bound afterward with BindMMIO: mmiosim.New
// requires a Target to construct, and a Target needs the resulting *MMIO to
// read/write registers, so the two are built in two steps to break the
// cycle.
func New(region *dmabuf.Region, table regtable.Table, id int, linkAddr tcpip.LinkAddress, host, device net.HardwareAddr) *Target {
	return &Target{
		region:   region,
		table:    table,
		ctrlAddr: table.CtrlAddr(id),
		host:     host,
		device:   device,
		link:     channel.New(linkQueueDepth, linkMTU, linkAddr),
		stop:     make(chan struct{}),
	}
}

// BindMMIO attaches the register file this Target reads and writes. It must
// be called once, before Run, and after the *mmiosim.MMIO was constructed
// with this Target as its wake-poll target.
func (t *Target) BindMMIO(mmio *mmiosim.MMIO) {
	t.mmio = mmio
}

// Endpoint returns the simulated radio link as a gVisor link-layer endpoint,
// suitable for attaching to a *stack.Stack with stack.CreateNIC.
func (t *Target) Endpoint() *channel.Endpoint { return t.link }

// Awake always reports true. This simulation does not model target-side
// sleep state, only the host-side wake bracket (hif.Accessor.Begin/End) that
// would gate access to a real target that could be asleep.
func (t *Target) Awake() bool { return true }

// Run pumps both ring directions until Stop is called. Callers start it in
// its own goroutine once ce.Device.Init has configured the engine this
// Target is bound to.
func (t *Target) Run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.drainSource()
			t.fillDest()
		}
	}
}

// Stop halts a running Run.
func (t *Target) Stop() {
	close(t.stop)
}

func (t *Target) reg(offset uint32) uint32      { return t.mmio.Read32(t.ctrlAddr + offset) }
func (t *Target) setReg(offset uint32, v uint32) { t.mmio.Write32(t.ctrlAddr+offset, v) }

// drainSource moves every source-ring descriptor the host has published
// since the last poll onto the radio link, then republishes the target's
// read index so the host's CompletedSendNext observes the completion.
func (t *Target) drainSource() {
	t.mu.Lock()
	defer t.mu.Unlock()

	nentries := t.reg(t.table.SRSize)
	if nentries == 0 {
		return
	}
	mask := nentries - 1

	base := t.reg(t.table.SRBase)
	writeIndex := t.reg(t.table.SRWriteIndex) & mask

	for t.srRead != writeIndex {
		off := base + t.srRead*descSize
		desc := decodeRawDesc(t.region.View(off, descSize))

		if desc.nbytes > 0 {
			t.injectOutbound(t.region.View(desc.addr, int(desc.nbytes)))
		}

		t.srRead = (t.srRead + 1) & mask
		t.setReg(t.table.CurrentSRRI, t.srRead)
	}
}

// fillDest copies frames arriving on the radio link into posted
// destination-ring buffers, completing each in place by writing its nbytes
// field the way real silicon would — CompletedRecvNext's race gate depends
// on exactly this write being the signal that a slot is done.
func (t *Target) fillDest() {
	t.mu.Lock()
	defer t.mu.Unlock()

	nentries := t.reg(t.table.DSTSize)
	if nentries == 0 {
		return
	}
	mask := nentries - 1

	base := t.reg(t.table.DSTBase)
	writeIndex := t.reg(t.table.DSTWriteIndex) & mask

	for t.dstFill != writeIndex {
		frame, ok := t.readOutbound()
		if !ok {
			return
		}

		off := base + t.dstFill*descSize
		desc := decodeRawDesc(t.region.View(off, descSize))

		buf := t.region.View(desc.addr, len(frame))
		copy(buf, frame)

		rawDesc{addr: desc.addr, nbytes: uint16(len(frame)), flags: desc.flags}.encode(t.region.View(off, descSize))

		t.dstFill = (t.dstFill + 1) & mask
	}
}

// injectOutbound parses a buffer handed to the source ring as an Ethernet
// frame and injects its payload into the link as an inbound packet, the way
// cdc_ecm.NIC.ECMRx hands a USB-received frame to its gVisor endpoint.
func (t *Target) injectOutbound(frame []byte) {
	if len(frame) < 14 {
		return
	}

	hdr := buffer.NewViewFromBytes(frame[0:14])
	proto := tcpip.NetworkProtocolNumber(binary.BigEndian.Uint16(frame[12:14]))
	payload := buffer.NewViewFromBytes(frame[14:])

	pkt := &stack.PacketBuffer{
		LinkHeader: hdr,
		Data:       payload.ToVectorisedView(),
	}

	t.link.InjectInbound(proto, pkt)
}

// readOutbound drains one packet the attached stack wrote to the link and
// re-wraps it as an Ethernet frame, the way cdc_ecm.NIC.ECMTx builds a frame
// for USB transmission from a gVisor packet.
func (t *Target) readOutbound() ([]byte, bool) {
	info, ok := t.link.Read()
	if !ok {
		return nil, false
	}

	hdr := info.Pkt.Header.View()
	payload := info.Pkt.Data.ToView()

	proto := make([]byte, 2)
	binary.BigEndian.PutUint16(proto, uint16(info.Proto))

	frame := make([]byte, 0, 14+len(hdr)+len(payload))
	frame = append(frame, t.host...)
	frame = append(frame, t.device...)
	frame = append(frame, proto...)
	frame = append(frame, hdr...)
	frame = append(frame, payload...)

	return frame, true
}
