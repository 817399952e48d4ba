package reactor

import (
	"testing"
	"time"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New(5 * time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReactorScheduleFIFOAtSameDeadline(t *testing.T) {
	r := newTestReactor(t)
	var order []int
	r.Schedule(0, func() { order = append(order, 1) })
	r.Schedule(0, func() { order = append(order, 2) })
	r.Schedule(0, func() { order = append(order, 3); r.Stop() })

	r.Run()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("timers at the same deadline ran out of insertion order: %v", order)
	}
}

func TestReactorScheduleOrdersByDeadline(t *testing.T) {
	r := newTestReactor(t)
	var order []string
	r.Schedule(30*time.Millisecond, func() { order = append(order, "late") })
	r.Schedule(5*time.Millisecond, func() { order = append(order, "early") })
	r.Schedule(40*time.Millisecond, func() { order = append(order, "latest"); r.Stop() })

	r.Run()

	if len(order) != 3 || order[0] != "early" || order[1] != "late" || order[2] != "latest" {
		t.Fatalf("timers fired out of deadline order: %v", order)
	}
}

func TestScheduledEventDeleteCancels(t *testing.T) {
	r := newTestReactor(t)
	fired := false
	ev := r.Schedule(10*time.Millisecond, func() { fired = true })
	ev.Delete()

	r.Schedule(20*time.Millisecond, func() { r.Stop() })
	r.Run()

	if fired {
		t.Fatal("cancelled timer fired anyway")
	}
}

func TestScheduledEventDeleteIsIdempotent(t *testing.T) {
	r := newTestReactor(t)
	ev := r.Schedule(10*time.Millisecond, func() {})
	ev.Delete()
	ev.Delete() // must not panic or double-remove

	r.Schedule(5*time.Millisecond, func() { r.Stop() })
	r.Run()
}

// A timer that cancels itself from within its own callback (as deadConn's
// idler does when it races a peer-initiated close) must not panic or affect
// other timers.
func TestScheduledEventDeleteFromWithinOwnCallback(t *testing.T) {
	r := newTestReactor(t)
	var ev *ScheduledEvent
	ran := false
	ev = r.Schedule(5*time.Millisecond, func() {
		ran = true
		ev.Delete()
	})

	r.Schedule(15*time.Millisecond, func() { r.Stop() })
	r.Run()

	if !ran {
		t.Fatal("timer never ran")
	}
}

func TestReactorPostRunsOnNextIteration(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan struct{})
	var ran bool

	go func() {
		r.Post(func() {
			ran = true
			r.Stop()
		})
		close(done)
	}()

	<-done
	r.Run()

	if !ran {
		t.Fatal("posted function never ran")
	}
}

func TestReactorPostDrainsAllBeforeNextPoll(t *testing.T) {
	r := newTestReactor(t)
	var order []int

	r.Post(func() { order = append(order, 1) })
	r.Post(func() { order = append(order, 2) })
	r.Post(func() { order = append(order, 3) })
	r.Schedule(5*time.Millisecond, func() { r.Stop() })

	r.Run()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("posted functions ran out of order: %v", order)
	}
}

func TestReactorStopClearsTimers(t *testing.T) {
	r := newTestReactor(t)
	fired := false
	r.Schedule(5*time.Millisecond, func() { r.Stop() })
	r.Schedule(50*time.Millisecond, func() { fired = true })

	r.Run()

	if fired {
		t.Fatal("timer scheduled before Stop still fired after the loop stopped")
	}
	if len(r.timers) != 0 {
		t.Fatalf("Stop left %d timers behind", len(r.timers))
	}
}

func TestReactorEmitsStartAndStop(t *testing.T) {
	r := newTestReactor(t)
	var started, stopped bool
	r.On("start", func(args ...interface{}) { started = true })
	r.On("stop", func(args ...interface{}) { stopped = true })

	r.Schedule(5*time.Millisecond, func() { r.Stop() })
	r.Run()

	if !started {
		t.Fatal("\"start\" never emitted")
	}
	if !stopped {
		t.Fatal("\"stop\" never emitted")
	}
}
