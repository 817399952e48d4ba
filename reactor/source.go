package reactor

import "github.com/searchktools/reactor-http/poller"

var eventBits = map[string]poller.Mask{
	"fd_readable": poller.Readable,
	"fd_writable": poller.Writable,
	"fd_error":    poller.Error,
	"fd_close":    poller.Closed,
}

// EventSource binds a single file descriptor to an EventEmitter with a
// per-fd interest set. Consumers subscribe uniformly with
// On("fd_readable", ...), and so on, regardless of which readiness backend
// the Reactor is using underneath.
type EventSource struct {
	*EventEmitter

	Reactor *Reactor

	fd       int
	interest poller.Mask
}

// NewEventSource returns an EventSource bound to r but not yet registered
// with any fd.
func NewEventSource(r *Reactor) *EventSource {
	return &EventSource{EventEmitter: NewEventEmitter(), Reactor: r, fd: -1}
}

// RegisterFD binds this source to fd. If event is non-empty, interest in it
// starts immediately.
func (s *EventSource) RegisterFD(fd int, event string) error {
	s.fd = fd
	if err := s.Reactor.registerFD(fd, s); err != nil {
		return err
	}
	if event != "" {
		s.EventAdd(event)
	}
	return nil
}

// UnregisterFD detaches this source from the reactor and clears its
// interest set.
func (s *EventSource) UnregisterFD() {
	if s.fd >= 0 {
		s.Reactor.unregisterFD(s.fd)
		s.fd = -1
		s.interest = 0
	}
}

// EventAdd starts emitting the given event ("fd_readable", "fd_writable",
// "fd_error", or "fd_close").
func (s *EventSource) EventAdd(event string) {
	bit, ok := eventBits[event]
	if !ok || s.interest&bit != 0 {
		return
	}
	s.interest |= bit
	s.Reactor.setInterest(s.fd, s.interest)
}

// EventDel stops emitting the given event.
func (s *EventSource) EventDel(event string) {
	bit, ok := eventBits[event]
	if !ok || s.interest&bit == 0 {
		return
	}
	s.interest &^= bit
	s.Reactor.setInterest(s.fd, s.interest)
}

// FD returns the registered file descriptor, or -1 if unregistered.
func (s *EventSource) FD() int { return s.fd }
