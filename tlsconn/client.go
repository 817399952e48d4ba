// Package tlsconn layers TLS over transport.Client/Conn. crypto/tls offers
// no way to pump a handshake or a session's records across a non-blocking
// fd the way OpenSSL's SSL_ERROR_WANT_READ/WRITE retry loop does; instead,
// once the raw TCP handshake completes, this package hands the fd to a
// pair of background goroutines that do blocking TLS I/O and post results
// back onto the reactor's own goroutine, preserving the single-threaded
// contract everywhere above this package.
package tlsconn

import (
	"crypto/tls"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
	"github.com/searchktools/reactor-http/transport"
)

// Client connects to a single resolved IP:port, performs a TLS handshake,
// and surfaces the result the same way transport.Client does.
//
// Emits: "connect" (*Conn), "connect_error" (error).
type Client struct {
	*reactor.EventEmitter

	reactor *reactor.Reactor

	// Config is cloned per-connection; its ServerName is used unless
	// Connect is given an explicit one.
	Config *tls.Config

	// IPCheck is forwarded to the underlying transport.Client.
	IPCheck func(net.IP) bool
}

// NewClient returns a Client bound to r. A nil cfg uses tls.Config{}'s
// defaults (which, notably, verify certificates — callers connecting to
// self-signed test fixtures must set InsecureSkipVerify themselves).
func NewClient(r *reactor.Reactor, cfg *tls.Config) *Client {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &Client{EventEmitter: reactor.NewEventEmitter(), reactor: r, Config: cfg}
}

// Connect dials ip:port, then performs a TLS handshake using serverName for
// SNI and certificate verification.
func (c *Client) Connect(ip net.IP, port int, serverName string, timeout time.Duration) {
	tcp := transport.NewClient(c.reactor)
	tcp.IPCheck = c.IPCheck
	tcp.On("connect", func(args ...interface{}) {
		c.handshake(args[0].(*transport.Conn), serverName)
	})
	tcp.On("connect_error", func(args ...interface{}) {
		c.Emit("connect_error", args[0])
	})
	tcp.Connect(ip, port, timeout)
}

func (c *Client) handshake(tcp *transport.Conn, serverName string) {
	fd := tcp.Release()
	cfg := c.Config.Clone()
	if serverName != "" {
		cfg.ServerName = serverName
	}
	go c.runHandshake(fd, cfg)
}

// runHandshake owns fd from here on; it always either closes it on error or
// hands it off (via net.FileConn's dup) to a live *tls.Conn.
func (c *Client) runHandshake(fd int, cfg *tls.Config) {
	fail := func(err error) {
		c.reactor.Post(func() {
			c.Emit("connect_error", &transport.ConnectError{Kind: transport.ConnectErrTLS, Err: err})
		})
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		fail(err)
		return
	}
	file := os.NewFile(uintptr(fd), "tls-client")
	raw, err := net.FileConn(file)
	file.Close()
	if err != nil {
		fail(err)
		return
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.Handshake(); err != nil {
		raw.Close()
		fail(err)
		return
	}

	conn := newConn(c.reactor, tlsConn)
	c.reactor.Post(func() { c.Emit("connect", conn) })
}
