package ce

import (
	"errors"
	"testing"

	"github.com/wlanhost/ce/regtable"
)

func TestSendPublishesWriteIndexImmediately(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 4, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send("ctx-1", 0x1000, 64, 7, false, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := acc.regs[e.ctrlAddr+regtable.AR9888.SRWriteIndex]
	if got != 1 {
		t.Fatalf("SRWriteIndex = %d, want 1 (published immediately)", got)
	}
}

func TestSendGatherDefersWriteIndexPublish(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 8, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send(SendlistItem, 0x1000, 64, 1, true, false); err != nil {
		t.Fatalf("Send (gather): %v", err)
	}

	if got := acc.regs[e.ctrlAddr+regtable.AR9888.SRWriteIndex]; got != 0 {
		t.Fatalf("SRWriteIndex published during gather continuation: %d, want 0", got)
	}

	if err := e.Send("final", 0x2000, 128, 1, false, false); err != nil {
		t.Fatalf("Send (final): %v", err)
	}

	if got := acc.regs[e.ctrlAddr+regtable.AR9888.SRWriteIndex]; got != 2 {
		t.Fatalf("SRWriteIndex after final item = %d, want 2", got)
	}
}

func TestSendNoResourcesWhenRingFull(t *testing.T) {
	d, _ := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 2}) // rounds to 2: 1 usable slot
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send(nil, 0x1000, 10, 0, false, false); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	if err := e.Send(nil, 0x1000, 10, 0, false, false); !errors.Is(err, ErrNoResources) {
		t.Fatalf("Send on full ring error = %v, want ErrNoResources", err)
	}
}

func TestCompletedSendNextRefreshesHWIndexOnlyWhenExhausted(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 8, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send("a", 0x1000, 10, 1, false, false); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if err := e.Send("b", 0x2000, 20, 2, false, false); err != nil {
		t.Fatalf("Send b: %v", err)
	}

	// before the target advances CurrentSRRI, nothing is complete
	if _, _, _, _, err := e.CompletedSendNext(); !errors.Is(err, ErrNoResources) {
		t.Fatalf("CompletedSendNext before completion: err = %v, want ErrNoResources", err)
	}

	acc.regs[e.ctrlAddr+regtable.AR9888.CurrentSRRI] = 2 // target consumed both

	ctx, buf, nbytes, transferID, err := e.CompletedSendNext()
	if err != nil {
		t.Fatalf("CompletedSendNext: %v", err)
	}
	if ctx != "a" || buf != 0x1000 || nbytes != 10 || transferID != 1 {
		t.Fatalf("CompletedSendNext = (%v,%#x,%d,%d), want (a,0x1000,10,1)", ctx, buf, nbytes, transferID)
	}

	// second harvest must not re-read CurrentSRRI: set it back to an
	// impossible value and confirm the cached hwIndex is still honored
	acc.regs[e.ctrlAddr+regtable.AR9888.CurrentSRRI] = 0

	ctx2, _, _, _, err := e.CompletedSendNext()
	if err != nil {
		t.Fatalf("second CompletedSendNext: %v", err)
	}
	if ctx2 != "b" {
		t.Fatalf("second CompletedSendNext ctx = %v, want b", ctx2)
	}
}

func TestCompletedSendNextDeviceGone(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 4, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send("a", 0x1000, 10, 1, false, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	acc.regs[e.ctrlAddr+regtable.AR9888.CurrentSRRI] = 0xFFFFFFFF

	if _, _, _, _, err := e.CompletedSendNext(); !errors.Is(err, ErrDeviceGone) {
		t.Fatalf("CompletedSendNext with CurrentSRRI=-1 error = %v, want ErrDeviceGone", err)
	}
}

func TestSendlistSendCapacityCheckedBeforeAnyPost(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 4, SrcSzMax: 1500}) // 3 usable slots
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	list := &SendList{}
	for i := 0; i < 4; i++ { // more items than the ring can hold
		if err := list.SendlistBufAdd(uint32(0x1000+i), 10, false); err != nil {
			t.Fatalf("SendlistBufAdd: %v", err)
		}
	}

	if err := e.SendlistSend("done", list, 5); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("SendlistSend over-capacity error = %v, want ErrNoMemory", err)
	}

	// no partial state: write index must be untouched
	if got := acc.regs[e.ctrlAddr+regtable.AR9888.SRWriteIndex]; got != 0 {
		t.Fatalf("SRWriteIndex after rejected sendlist = %d, want 0", got)
	}
	if got := e.src.writeIndex; got != 0 {
		t.Fatalf("ring writeIndex after rejected sendlist = %d, want 0", got)
	}
}

func TestSendlistSendPublishesOnceForWholeGroup(t *testing.T) {
	d, acc := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 8, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	list := &SendList{}
	list.SendlistBufAdd(0x1000, 10, false)
	list.SendlistBufAdd(0x2000, 20, false)
	list.SendlistBufAdd(0x3000, 30, false)

	if err := e.SendlistSend("final-ctx", list, 9); err != nil {
		t.Fatalf("SendlistSend: %v", err)
	}

	if got := acc.regs[e.ctrlAddr+regtable.AR9888.SRWriteIndex]; got != 3 {
		t.Fatalf("SRWriteIndex = %d, want 3", got)
	}

	acc.regs[e.ctrlAddr+regtable.AR9888.CurrentSRRI] = 3

	for i, want := range []Context{SendlistItem, SendlistItem, "final-ctx"} {
		ctx, _, _, _, err := e.CompletedSendNext()
		if err != nil {
			t.Fatalf("CompletedSendNext[%d]: %v", i, err)
		}
		if ctx != want {
			t.Fatalf("CompletedSendNext[%d] ctx = %v, want %v", i, ctx, want)
		}
	}
}

func TestRecvBufEnqueueAndCompletedRecvNextRaceGate(t *testing.T) {
	d, _ := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{DestNEntries: 4})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.RecvBufEnqueue("rx-1", 0x5000); err != nil {
		t.Fatalf("RecvBufEnqueue: %v", err)
	}

	// the target hasn't written the descriptor yet (nbytes==0): not ready,
	// even though the slot index itself would suggest it is
	if _, _, _, _, _, err := e.CompletedRecvNext(); !errors.Is(err, ErrNoResources) {
		t.Fatalf("CompletedRecvNext before fill error = %v, want ErrNoResources", err)
	}

	// simulate the target filling the descriptor in place
	filled := descriptor{addr: 0x5000, nbytes: 256, flags: makeFlags(false, true, 3)}
	filled.encode(e.dest.descAt(0))

	ctx, buf, nbytes, transferID, flags, err := e.CompletedRecvNext()
	if err != nil {
		t.Fatalf("CompletedRecvNext: %v", err)
	}
	if ctx != "rx-1" || buf != 0x5000 || nbytes != 256 || transferID != 3 || flags != Swapped {
		t.Fatalf("CompletedRecvNext = (%v,%#x,%d,%d,%v), unexpected", ctx, buf, nbytes, transferID, flags)
	}

	// the slot must be re-armed (nbytes zeroed) so the next fill is detected
	if got := decodeDescriptor(e.dest.descAt(0)).nbytes; got != 0 {
		t.Fatalf("descriptor not re-armed: nbytes = %d, want 0", got)
	}
}

func TestCancelSendNextDoesNotRewindWriteIndex(t *testing.T) {
	d, _ := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{SrcNEntries: 4, SrcSzMax: 1500})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.Send("pending", 0x1000, 10, 1, false, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	wantWriteIndex := e.src.writeIndex

	ctx, _, _, _, err := e.CancelSendNext()
	if err != nil {
		t.Fatalf("CancelSendNext: %v", err)
	}
	if ctx != "pending" {
		t.Fatalf("CancelSendNext ctx = %v, want pending", ctx)
	}

	if e.src.writeIndex != wantWriteIndex {
		t.Fatalf("writeIndex changed by CancelSendNext: %d != %d", e.src.writeIndex, wantWriteIndex)
	}

	if _, _, _, _, err := e.CancelSendNext(); !errors.Is(err, ErrNoResources) {
		t.Fatalf("CancelSendNext on empty backlog error = %v, want ErrNoResources", err)
	}
}

func TestRevokeRecvNext(t *testing.T) {
	d, _ := newTestDevice(t, 1)

	e, err := d.Init(0, Attr{DestNEntries: 4})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.RecvBufEnqueue("queued", 0x6000); err != nil {
		t.Fatalf("RecvBufEnqueue: %v", err)
	}

	ctx, buf, err := e.RevokeRecvNext()
	if err != nil {
		t.Fatalf("RevokeRecvNext: %v", err)
	}
	if ctx != "queued" || buf != 0x6000 {
		t.Fatalf("RevokeRecvNext = (%v,%#x), want (queued,0x6000)", ctx, buf)
	}

	if _, _, err := e.RevokeRecvNext(); !errors.Is(err, ErrNoResources) {
		t.Fatalf("RevokeRecvNext on empty ring error = %v, want ErrNoResources", err)
	}
}
