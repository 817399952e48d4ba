package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestPollerReportsReadableOnWrite(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	r, w := fds[0], fds[1]

	if err := p.Add(r, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if evs, err := p.Wait(10 * time.Millisecond); err != nil {
		t.Fatalf("Wait: %v", err)
	} else if len(evs) != 0 {
		t.Fatalf("expected no events before any write, got %v", evs)
	}

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	evs, err := p.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(evs) != 1 || evs[0].FD != r || evs[0].Mask&Readable == 0 {
		t.Fatalf("Wait = %v, want one Readable event on fd %d", evs, r)
	}
}

func TestPollerModifyChangesInterest(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	r, w := fds[0], fds[1]

	if err := p.Add(r, Writable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	unix.Write(w, []byte("x"))

	if err := p.Modify(r, Readable); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	evs, err := p.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(evs) != 1 || evs[0].Mask&Readable == 0 {
		t.Fatalf("Wait = %v, want a Readable event after Modify", evs)
	}
}

func TestPollerRemoveStopsDelivery(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	r, w := fds[0], fds[1]

	if err := p.Add(r, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Remove(r); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	unix.Write(w, []byte("x"))

	evs, err := p.Wait(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events after Remove, got %v", evs)
	}
}

func TestPollerRemoveIsSafeWhenNeverAdded(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := p.Remove(fds[0]); err != nil {
		t.Fatalf("Remove on an fd never added should be a no-op, got %v", err)
	}
}
