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

	"github.com/wlanhost/ce/regtable"
)

// watermarkStatusMask covers the four watermark status bits (source
// high/low, destination high/low); watermark interrupts are enabled in
// hardware but never otherwise consumed by this core (spec §4.4 step 5).
const watermarkStatusMask = (1 << regtable.SrcHighWMBit) | (1 << regtable.SrcLowWMBit) |
	(1 << regtable.DstHighWMBit) | (1 << regtable.DstLowWMBit)

const copyCompleteStatusMask = 1 << regtable.CopyCompleteBit

// handlerAdjustLocked enables the copy-complete interrupt iff interrupts
// are not disabled and at least one callback is registered; it always
// disables the watermark interrupt, since watermarks are enabled in
// hardware but unused by this core. The caller holds e.device.lock.
func (e *Engine) handlerAdjustLocked() {
	t := e.device.table
	enable := !e.disableCopyCompl && (e.sendCB != nil || e.recvCB != nil)

	e.device.accessor.Begin()
	defer e.device.accessor.End()

	ie := e.regRead(t.HostIE)
	ie &^= watermarkStatusMask

	if enable {
		ie |= copyCompleteStatusMask
	} else {
		ie &^= copyCompleteStatusMask
	}

	e.regWrite(t.HostIE, ie)
}

// SendCBRegister registers (or clears, with a nil fn) the send completion
// callback and adjusts the copy-complete interrupt mask accordingly.
// disableInterrupts, if true, forces the copy-complete interrupt off
// regardless of whether a callback is registered — used by callers that
// want to poll CompletedSendNext themselves instead of being interrupted.
func (e *Engine) SendCBRegister(fn SendCB, disableInterrupts bool) {
	d := e.device

	d.lock.Lock()
	defer d.lock.Unlock()

	e.sendCB = fn
	e.disableCopyCompl = disableInterrupts

	e.handlerAdjustLocked()
}

// RecvCBRegister registers (or clears, with a nil fn) the receive
// completion callback and adjusts the copy-complete interrupt mask
// accordingly.
func (e *Engine) RecvCBRegister(fn RecvCB) {
	d := e.device

	d.lock.Lock()
	defer d.lock.Unlock()

	e.recvCB = fn

	e.handlerAdjustLocked()
}

// DisableInterrupts forces the copy-complete interrupt off for this engine
// regardless of callback registration, without touching the callbacks
// themselves.
func (e *Engine) DisableInterrupts() {
	d := e.device

	d.lock.Lock()
	defer d.lock.Unlock()

	e.disableCopyCompl = true
	e.handlerAdjustLocked()
}

// PerEngineService is the per-engine interrupt service routine: it clears
// the engine's copy-complete status bits, then drains completed receives
// and sends, invoking each registered callback with the device lock
// released so the callback may re-enter the CE API (typically to repost a
// buffer), and finally clears the watermark status bits and logs and
// clears any pending misc (error) interrupt status.
func (d *Device) PerEngineService(id int) error {
	d.lock.Lock()

	if id < 0 || id >= d.ceCount {
		d.lock.Unlock()
		return fmt.Errorf("ce%d: %w", id, ErrInvalidEngine)
	}

	e := d.engines[id]
	if e == nil {
		d.lock.Unlock()
		return fmt.Errorf("ce%d: %w", id, ErrInvalidEngine)
	}

	t := d.table

	// Clearing must precede draining: a completion landing between the
	// clear and the drain is still picked up by the drain loop below, but
	// one landing before the clear would otherwise be lost if we cleared
	// after draining.
	d.accessor.Begin()
	status := d.accessor.Read32(e.ctrlAddr + t.HostIS)
	d.accessor.Write32(e.ctrlAddr+t.HostIS, status&copyCompleteStatusMask)
	d.accessor.End()

	if e.recvCB != nil {
		for {
			ctx, buf, nbytes, transferID, flags, err := e.completedRecvNextLocked()
			if err != nil {
				break
			}

			cb := e.recvCB

			d.lock.Unlock()
			cb(e, ctx, buf, nbytes, transferID, flags)
			d.lock.Lock()
		}
	}

	if e.sendCB != nil {
		for {
			ctx, buf, nbytes, transferID, err := e.completedSendNextLocked()
			if err != nil {
				break
			}

			cb := e.sendCB

			d.lock.Unlock()
			cb(e, ctx, buf, nbytes, transferID)
			d.lock.Lock()
		}
	}

	d.accessor.Begin()
	status = d.accessor.Read32(e.ctrlAddr + t.HostIS)
	d.accessor.Write32(e.ctrlAddr+t.HostIS, status&watermarkStatusMask)

	if misc := d.accessor.Read32(e.ctrlAddr + t.MiscIS); misc != 0 {
		log.Printf("ce%d: misc interrupt status %#x", id, misc)
		d.accessor.Write32(e.ctrlAddr+t.MiscIS, misc)
	}
	d.accessor.End()

	d.lock.Unlock()

	return nil
}

// PerEngineServiceAny reads the device-level interrupt summary register and
// services every engine with a pending bit, in ascending id order. The
// summary is read once per invocation and consumed from a local copy; any
// engine id beyond d.ceCount is ignored even if its bit is set.
func (d *Device) PerEngineServiceAny() error {
	d.lock.Lock()
	d.accessor.Begin()
	summary := d.accessor.Read32(d.table.WrapperBase)
	d.accessor.End()
	d.lock.Unlock()

	pending := (summary >> regtable.WrapperSummaryShift) & regtable.WrapperSummaryMask

	for id := 0; id < d.ceCount; id++ {
		if pending&(1<<uint(id)) == 0 {
			continue
		}

		if err := d.PerEngineService(id); err != nil {
			log.Printf("ce: per_engine_service_any: engine %d: %v", id, err)
		}
	}

	return nil
}
