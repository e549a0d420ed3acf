// Copy Engine host/target DMA transport
// https://github.com/wlanhost/ce
//
// Copyright (c) The CE Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ce

// Context is an opaque per-transfer token supplied by the caller when
// posting a buffer and returned unchanged on completion. The Copy Engine
// never inspects or dereferences it; it only stores it alongside the
// descriptor it was posted with and hands it back.
//
// Unlike the reference driver, which stashes a raw pointer in the
// descriptor's shadow slot, this port never lets callers hand over
// anything the engine would need to interpret — any concrete type works as
// long as it is comparable by identity.
type Context any

// sendlistItem is the sentinel Context value used for every descriptor of a
// SendlistSend gather group except the last one, which carries the caller's
// real Context instead. It is a distinguished value compared by identity.
type sendlistItem struct{}

// SendlistItem is the sentinel returned by CompletedSendNext for every
// descriptor of a gather group except the final (caller-supplied) one.
var SendlistItem Context = &sendlistItem{}
