package mmiosim

import (
	"testing"
	"time"
)

type alwaysAwake struct{}

func (alwaysAwake) Awake() bool { return true }

type neverAwake struct{}

func (neverAwake) Awake() bool { return false }

func TestReadWrite32RoundTrip(t *testing.T) {
	m, err := New(4096, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	m.Write32(0x40, 0xCAFEBABE)

	if got := m.Read32(0x40); got != 0xCAFEBABE {
		t.Fatalf("Read32(0x40) = %#x, want 0xcafebabe", got)
	}

	// unwritten registers read as zero
	if got := m.Read32(0x100); got != 0 {
		t.Fatalf("Read32(0x100) = %#x, want 0", got)
	}
}

func TestOffsetOutOfRangePanics(t *testing.T) {
	m, err := New(64, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("Read32 past size did not panic")
		}
	}()

	m.Read32(1000)
}

func TestBeginEndBracketNilTargetReturnsImmediately(t *testing.T) {
	m, err := New(4096, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	done := make(chan struct{})
	go func() {
		m.Begin()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Begin with nil Target blocked")
	}

	if !m.Asserted() {
		t.Fatal("Asserted() = false after Begin")
	}

	m.End()

	if m.Asserted() {
		t.Fatal("Asserted() = true after End")
	}
}

func TestBeginGivesUpAfterWakeTimeout(t *testing.T) {
	orig := WakeTimeout
	WakeTimeout = 10 * time.Millisecond
	defer func() { WakeTimeout = orig }()

	m, err := New(4096, neverAwake{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	start := time.Now()
	m.Begin()
	elapsed := time.Since(start)

	if elapsed < WakeTimeout {
		t.Fatalf("Begin returned after %v, want >= WakeTimeout %v", elapsed, WakeTimeout)
	}
	if elapsed > time.Second {
		t.Fatalf("Begin took too long to give up: %v", elapsed)
	}
}

func TestBeginReturnsAsSoonAsTargetWakes(t *testing.T) {
	m, err := New(4096, alwaysAwake{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	start := time.Now()
	m.Begin()
	elapsed := time.Since(start)

	if elapsed > WakeTimeout {
		t.Fatalf("Begin with always-awake target took %v, want well under %v", elapsed, WakeTimeout)
	}
}
