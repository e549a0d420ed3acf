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
	"sync"

	"github.com/wlanhost/ce/dmabuf"
	"github.com/wlanhost/ce/hif"
	"github.com/wlanhost/ce/regtable"
)

// CECountMax is the maximum number of Copy Engine instances supported per
// device, matching the reference driver's CE_COUNT_MAX.
const CECountMax = 8

// Device owns the single per-device lock that serializes every Copy Engine
// ring manipulation across all of its engines, plus the resources external
// to the ce package proper: the MMIO accessor and the DMA-coherent
// allocator. One Device corresponds to one physical (or simulated)
// interconnect to a target.
type Device struct {
	lock sync.Mutex

	accessor  hif.Accessor
	allocator dmabuf.Allocator
	table     regtable.Table

	ceCount int
	engines [CECountMax]*Engine
}

// NewDevice creates a Device bound to the given MMIO accessor, DMA-coherent
// allocator, and silicon register table. ceCount bounds how many engine ids
// PerEngineServiceAny will consider; it must not exceed CECountMax.
func NewDevice(accessor hif.Accessor, allocator dmabuf.Allocator, table regtable.Table, ceCount int) (*Device, error) {
	if ceCount <= 0 || ceCount > CECountMax {
		return nil, fmt.Errorf("ce: invalid ce count %d", ceCount)
	}

	return &Device{
		accessor:  accessor,
		allocator: allocator,
		table:     table,
		ceCount:   ceCount,
	}, nil
}

// Engine returns the engine registered at id, or nil if none has been
// initialized yet.
func (d *Device) Engine(id int) *Engine {
	d.lock.Lock()
	defer d.lock.Unlock()

	if id < 0 || id >= d.ceCount {
		return nil
	}

	return d.engines[id]
}

// Init creates (or returns the existing) engine for id, per spec §4.1:
// Init is idempotent, returning the already-configured engine if one exists
// for this id rather than re-initializing it.
func (d *Device) Init(id int, attr Attr) (*Engine, error) {
	if id < 0 || id >= d.ceCount {
		return nil, fmt.Errorf("ce%d: %w", id, ErrInvalidEngine)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if e := d.engines[id]; e != nil {
		return e, nil
	}

	e := &Engine{
		device:   d,
		id:       id,
		attr:     attr,
		ctrlAddr: d.table.CtrlAddr(id),
	}

	if err := e.initLocked(); err != nil {
		log.Printf("ce%d: init failed: %v", id, err)
		return nil, fmt.Errorf("ce%d: init: %w", id, err)
	}

	e.state = Running
	d.engines[id] = e

	return e, nil
}

// Deinit tears down the engine at id. The caller must have externally
// quiesced target DMA for this engine first; Deinit does not verify this
// (it cannot observe target state), it only frees host-side resources.
func (d *Device) Deinit(id int) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if id < 0 || id >= d.ceCount {
		return fmt.Errorf("ce%d: %w", id, ErrInvalidEngine)
	}

	e := d.engines[id]
	if e == nil {
		return fmt.Errorf("ce%d: %w", id, ErrInvalidEngine)
	}

	e.deinitLocked()
	d.engines[id] = nil

	return nil
}
