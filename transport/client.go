package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
)

// ConnectErrorKind classifies why a Client's Connect failed, mirroring the
// taxonomy surfaced one layer up by httpclient's connect orchestration.
type ConnectErrorKind string

const (
	// ConnectErrSocket covers socket(2)/connect(2) failures: refused,
	// unreachable, timed out, etc.
	ConnectErrSocket ConnectErrorKind = "socket"
	// ConnectErrAccess means IPCheck rejected the resolved address before a
	// socket was even opened.
	ConnectErrAccess ConnectErrorKind = "access"
	// ConnectErrDNS covers resolver failures, surfaced by package
	// dnsresolve rather than produced here.
	ConnectErrDNS ConnectErrorKind = "gai"
	// ConnectErrTLS covers handshake failures, surfaced by package tlsconn
	// rather than produced here.
	ConnectErrTLS ConnectErrorKind = "ssl"
	// ConnectErrRetry means every connect attempt across the configured
	// DNS result set failed; surfaced by package httpclient.
	ConnectErrRetry ConnectErrorKind = "retry"
)

// ConnectError is emitted on "connect_error".
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Kind, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// Client connects to a single resolved IP:port over TCP. DNS resolution is
// deliberately out of scope here (see package dnsresolve) — Connect always
// takes a literal, already-resolved IP, never a hostname.
//
// Emits: "connect" (*Conn), "connect_error" (*ConnectError).
type Client struct {
	*reactor.EventSource

	reactor *reactor.Reactor

	// IPCheck, if set, is consulted before opening a socket. Returning false
	// fails the connect with ConnectErrAccess without ever touching the
	// network — the hook point for address-based policy (e.g. refusing
	// loopback/link-local targets in a server-side fetcher).
	IPCheck func(net.IP) bool

	fd      int
	timeout *reactor.ScheduledEvent
}

// NewClient returns a Client bound to r. One Client handles exactly one
// Connect attempt; start a new Client for each connection.
func NewClient(r *reactor.Reactor) *Client {
	return &Client{EventSource: reactor.NewEventSource(r), reactor: r, fd: -1}
}

// Connect begins a non-blocking connect to ip:port. timeout <= 0 means no
// deadline beyond the kernel's own.
func (c *Client) Connect(ip net.IP, port int, timeout time.Duration) {
	if c.IPCheck != nil && !c.IPCheck(ip) {
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrAccess, Err: fmt.Errorf("address rejected: %s", ip)})
		return
	}

	sa, family, err := toSockaddr(ip, port)
	if err != nil {
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: err})
		return
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: err})
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: err})
		return
	}
	c.fd = fd

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		unix.Close(fd)
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: err})
		return
	}

	c.RegisterFD(fd, "fd_writable")
	c.On("fd_writable", func(...interface{}) { c.handleConnect(ip, port) })
	if timeout > 0 {
		c.timeout = c.reactor.Schedule(timeout, func() { c.handleTimeout() })
	}
}

func (c *Client) handleConnect(ip net.IP, port int) {
	if c.timeout != nil {
		c.timeout.Delete()
		c.timeout = nil
	}
	fd := c.fd
	c.UnregisterFD()
	c.fd = -1

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(fd)
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: err})
		return
	}
	if errno != 0 {
		unix.Close(fd)
		c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: unix.Errno(errno)})
		return
	}

	conn := NewConn(c.reactor, fd, ip, port)
	c.Emit("connect", conn)
}

func (c *Client) handleTimeout() {
	c.timeout = nil
	fd := c.fd
	c.UnregisterFD()
	c.fd = -1
	unix.Close(fd)
	c.Emit("connect_error", &ConnectError{Kind: ConnectErrSocket, Err: unix.ETIMEDOUT})
}

func toSockaddr(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa, unix.AF_INET, nil
	}
	if v6 := ip.To16(); v6 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], v6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("not an IP address: %v", ip)
}
