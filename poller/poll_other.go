//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the poll(2) fallback for platforms without a native
// readiness multiplexer in this package (everything but Linux and the BSD
// family). Unlike epoll/kqueue, poll(2) takes the whole fd set on every
// call, so the interest set is kept here and rebuilt into a []PollFd each
// Wait.
type pollPoller struct {
	mu       sync.Mutex
	interest map[int]Mask
}

func newPoller() (Poller, error) {
	return &pollPoller{interest: make(map[int]Mask)}, nil
}

func (p *pollPoller) Add(fd int, mask Mask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interest[fd] = mask
	return nil
}

func (p *pollPoller) Modify(fd int, mask Mask) error {
	return p.Add(fd, mask)
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interest, fd)
	return nil
}

func toPollEvents(mask Mask) int16 {
	var ev int16
	if mask&Readable != 0 {
		ev |= unix.POLLIN
	}
	if mask&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPollEvents(ev int16) Mask {
	var mask Mask
	if ev&unix.POLLIN != 0 {
		mask |= Readable
	}
	if ev&unix.POLLOUT != 0 {
		mask |= Writable
	}
	if ev&unix.POLLERR != 0 {
		mask |= Error
	}
	if ev&(unix.POLLHUP|unix.POLLNVAL) != 0 {
		mask |= Closed
	}
	return mask
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.interest))
	order := make([]int, 0, len(p.interest))
	for fd, mask := range p.interest {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(mask)})
		order = append(order, fd)
	}
	p.mu.Unlock()

	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]Event, 0, n)
	for i, pfd := range fds {
		if pfd.Revents != 0 {
			out = append(out, Event{FD: order[i], Mask: fromPollEvents(pfd.Revents)})
		}
	}
	return out, nil
}

func (p *pollPoller) Close() error {
	return nil
}
