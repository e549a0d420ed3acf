// Copy Engine host/target DMA transport
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ce

import "errors"

// Sentinel errors returned by the Copy Engine API. Callers should compare
// with errors.Is, since call sites wrap these with additional context.
var (
	// ErrInvalidEngine is returned when an engine id is out of range or
	// an operation is attempted on an engine that was never configured
	// for that direction (no source or no destination ring).
	ErrInvalidEngine = errors.New("ce: invalid engine")

	// ErrNoResources is returned when a ring has no free descriptor slot
	// for Send or RecvBufEnqueue, or when a completion is not yet ready.
	ErrNoResources = errors.New("ce: no resources")

	// ErrNoMemory is returned by SendlistSend when the source ring does
	// not have enough free slots for the whole gather list. Unlike
	// ErrNoResources, it guarantees no partial work was done.
	ErrNoMemory = errors.New("ce: insufficient ring resources for gather list")

	// ErrDeviceGone is returned when the target's read index reads back
	// as the all-ones sentinel, indicating the interconnect is gone.
	ErrDeviceGone = errors.New("ce: device gone")

	// ErrSendlistFull is returned by SendlistBufAdd when the caller-owned
	// staging list has reached its maximum item count.
	ErrSendlistFull = errors.New("ce: sendlist full")
)
