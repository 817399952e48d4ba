package reactor

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/searchktools/reactor-http/poller"
)

// Reactor is a single-threaded, cooperative, readiness-based event loop. One
// goroutine owns a Reactor and everything registered with it; the only
// locking guards the Post mailbox. Calling any Reactor method other than
// Post from a goroutine other than the one running Run is undefined
// behavior — such a goroutine hands its work to the loop with Post.
type Reactor struct {
	*EventEmitter

	// Precision is how often the timer queue is walked and is also used as
	// the poll backend's wait timeout. Defaults to 250ms, within the
	// 0.1-0.5s range recommended for readiness-based loops.
	Precision time.Duration
	// Debug enables warnings when a poll tick or timer callback runs long.
	Debug bool

	running   bool
	poller    poller.Poller
	fdTargets map[int]*EventSource
	timers    []*timerEntry
	now       time.Time

	postMu sync.Mutex
	posted []func()
}

// New constructs a Reactor using the readiness backend appropriate for the
// current platform (see package poller). A zero or negative precision uses
// the default of 250ms.
func New(precision time.Duration) (*Reactor, error) {
	if precision <= 0 {
		precision = 250 * time.Millisecond
	}
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		EventEmitter: NewEventEmitter(),
		Precision:    precision,
		poller:       p,
		fdTargets:    make(map[int]*EventSource),
	}, nil
}

// Running reports whether Run is (cooperatively) still looping.
func (r *Reactor) Running() bool { return r.running }

// FDCount returns how many file descriptors are currently registered.
func (r *Reactor) FDCount() int { return len(r.fdTargets) }

// Time returns the reactor's cached "now", refreshed once per tick, to
// avoid a syscall on every caller that just wants an approximate clock.
func (r *Reactor) Time() time.Time {
	if r.now.IsZero() {
		return time.Now()
	}
	return r.now
}

// Run starts the loop. It emits "start" on entry and blocks, alternating
// between polling for I/O readiness and draining due timers, until Stop is
// called (from within a callback — there are no other threads to call it
// from).
func (r *Reactor) Run() {
	r.running = true
	r.now = time.Now()
	r.Emit("start")
	var lastTimerCheck time.Time
	for r.running {
		r.runPosted()
		fdStart := time.Now()
		r.runFDEvents()
		r.now = time.Now()
		if r.Debug {
			if delay := r.now.Sub(fdStart); delay >= (r.Precision*3)/2 {
				log.Printf("reactor: long fd poll delay (%s)", delay)
			}
		}
		delay := r.now.Sub(lastTimerCheck)
		if delay >= (r.Precision*9)/10 {
			lastTimerCheck = r.now
			r.runTimers()
		}
	}
}

func (r *Reactor) runFDEvents() {
	events, err := r.poller.Wait(r.Precision)
	if err != nil {
		log.Printf("reactor: poll error: %v", err)
		return
	}
	for _, ev := range events {
		target, ok := r.fdTargets[ev.FD]
		if !ok {
			continue
		}
		if ev.Mask&poller.Readable != 0 {
			target.Emit("fd_readable")
		}
		if ev.Mask&poller.Writable != 0 {
			target.Emit("fd_writable")
		}
		if ev.Mask&poller.Error != 0 {
			target.Emit("fd_error")
		}
		if ev.Mask&poller.Closed != 0 {
			target.Emit("fd_close")
		}
	}
}

// Post queues fn to run on the reactor's own goroutine at the start of its
// next iteration (bounded by Precision, the same granularity timers are
// subject to). It is the one Reactor method safe to call from any
// goroutine — the mailbox a background resolver or TLS handshake worker
// uses to hand its result back across the thread boundary.
func (r *Reactor) Post(fn func()) {
	r.postMu.Lock()
	r.posted = append(r.posted, fn)
	r.postMu.Unlock()
}

func (r *Reactor) runPosted() {
	r.postMu.Lock()
	fns := r.posted
	r.posted = nil
	r.postMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (r *Reactor) runTimers() {
	if len(r.timers) > 5000 {
		log.Printf("reactor: %d timers scheduled", len(r.timers))
	}
	for len(r.timers) > 0 {
		if !r.running {
			return
		}
		t := r.timers[0]
		if t.deadline.After(r.now) {
			return
		}
		r.timers = r.timers[1:]
		t.cancelled = true // popped: Delete() from within cb, or after, is a no-op
		start := time.Now()
		t.cb()
		if r.Debug {
			if d := time.Since(start); d > r.Precision*2 {
				log.Printf("reactor: long timer callback (%s)", d)
			}
		}
	}
}

// Stop clears all scheduled timers, unregisters every fd, and emits "stop".
// It is safe to call Run again afterwards.
func (r *Reactor) Stop() {
	for _, t := range r.timers {
		t.cancelled = true
	}
	r.timers = nil
	r.running = false
	for fd := range r.fdTargets {
		r.unregisterFD(fd)
	}
	r.Emit("stop")
}

// Close releases the underlying OS readiness backend. Only needed when the
// application is done with this Reactor for good (e.g. in tests); the
// reactor created by New for the lifetime of a process never needs it.
func (r *Reactor) Close() error {
	return r.poller.Close()
}

// Schedule arranges for cb to run in delta from now, returning a handle
// whose Delete method cancels it. Order among timers with the same deadline
// is insertion order.
func (r *Reactor) Schedule(delta time.Duration, cb func()) *ScheduledEvent {
	entry := &timerEntry{deadline: r.Time().Add(delta), cb: cb}
	idx := sort.Search(len(r.timers), func(i int) bool {
		return r.timers[i].deadline.After(entry.deadline)
	})
	r.timers = append(r.timers, nil)
	copy(r.timers[idx+1:], r.timers[idx:])
	r.timers[idx] = entry
	return &ScheduledEvent{reactor: r, entry: entry}
}

func (r *Reactor) removeTimer(entry *timerEntry) {
	for i, t := range r.timers {
		if t == entry {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// timerEntry is a single scheduled callback in the sorted timer queue.
type timerEntry struct {
	deadline  time.Time
	cb        func()
	cancelled bool
}

// ScheduledEvent is the cancellation handle returned by Reactor.Schedule.
type ScheduledEvent struct {
	reactor *Reactor
	entry   *timerEntry
}

// Delete cancels the scheduled callback. Idempotent: a second call, or a
// call from within the callback it cancels, is a no-op.
func (s *ScheduledEvent) Delete() {
	if s.entry.cancelled {
		return
	}
	s.entry.cancelled = true
	s.reactor.removeTimer(s.entry)
}

// fd registration, used by EventSource.

func (r *Reactor) registerFD(fd int, target *EventSource) error {
	r.fdTargets[fd] = target
	return r.poller.Add(fd, 0)
}

func (r *Reactor) unregisterFD(fd int) {
	r.poller.Remove(fd)
	delete(r.fdTargets, fd)
}

func (r *Reactor) setInterest(fd int, mask poller.Mask) {
	r.poller.Modify(fd, mask)
}
