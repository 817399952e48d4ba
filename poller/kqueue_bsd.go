//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is a kqueue(2) backend for Darwin and the BSDs. Read and
// write interest are independent filters in kqueue, unlike epoll's single
// combined event mask, so Add/Modify/Remove translate a Mask into the
// matching set of EVFILT_READ / EVFILT_WRITE changes.
type kqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
	// interest tracks the last mask applied per fd so Modify only issues
	// changes for filters whose membership actually flipped.
	interest map[int]Mask
}

func newPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{
		kqfd:     kqfd,
		events:   make([]unix.Kevent_t, 256),
		interest: make(map[int]Mask),
	}, nil
}

func (p *kqueuePoller) apply(fd int, want Mask) error {
	have := p.interest[fd]
	var changes []unix.Kevent_t

	addOrDel := func(filter int16, wantBit, haveBit bool) {
		if wantBit == haveBit {
			return
		}
		flags := uint16(unix.EV_DELETE)
		if wantBit {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	addOrDel(unix.EVFILT_READ, want&Readable != 0, have&Readable != 0)
	addOrDel(unix.EVFILT_WRITE, want&Writable != 0, have&Writable != 0)

	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
			return err
		}
	}
	p.interest[fd] = want
	return nil
}

func (p *kqueuePoller) Add(fd int, mask Mask) error {
	return p.apply(fd, mask)
}

func (p *kqueuePoller) Modify(fd int, mask Mask) error {
	return p.apply(fd, mask)
}

func (p *kqueuePoller) Remove(fd int) error {
	delete(p.interest, fd)
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	// Deleting a filter that was never added returns ENOENT; harmless.
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) Wait(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	byFD := make(map[int]Mask, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		mask, seen := byFD[fd]
		if !seen {
			order = append(order, fd)
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			mask |= Readable
		case unix.EVFILT_WRITE:
			mask |= Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			mask |= Closed
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			mask |= Error
		}
		byFD[fd] = mask
	}
	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, Event{FD: fd, Mask: byFD[fd]})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
