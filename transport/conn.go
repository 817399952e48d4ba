// Package transport provides a push-model, non-blocking TCP byte-stream
// (Conn), plus connector (Client) and acceptor (Server) wrappers, all built
// directly on raw sockets and wired into a reactor.Reactor. It is the
// "TcpConnection / TcpClient / TcpServer" layer of the core.
package transport

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
)

// WriteBufSize is the number of queued write slices above which advisory
// backpressure (a "pause" event) is emitted.
const WriteBufSize = 16

// ReadBufSize is the size of the buffer used for each readable-triggered
// recv.
const ReadBufSize = 16 * 1024

// blockErrs are errno values meaning "try again later"; closeErrs mean the
// peer is gone or the socket is dead. Anything else is a fatal error that
// propagates to the caller instead of being silently handled.
var blockErrs = map[error]bool{
	unix.EAGAIN: true,
}

var closeErrs = map[error]bool{
	unix.EBADF:       true,
	unix.ECONNRESET:  true,
	unix.ESHUTDOWN:   true,
	unix.ECONNABORTED: true,
	unix.ECONNREFUSED: true,
	unix.ENOTCONN:    true,
	unix.EPIPE:       true,
}

// Conn is a bidirectional, non-blocking TCP byte stream. It starts paused:
// call Pause(false) to begin receiving "data" events.
//
// Emits: "data" ([]byte), "close" (), "pause" (bool).
type Conn struct {
	*reactor.EventSource

	fd   int
	IP   net.IP
	Port int

	connected bool

	inputPaused  bool
	outputPaused bool
	closing      bool

	writeBuf [][]byte
	readBuf  []byte
}

// NewConn wraps an already-connected, non-blocking socket fd as a Conn
// registered with r. ip/port are purely informational (peer address).
func NewConn(r *reactor.Reactor, fd int, ip net.IP, port int) *Conn {
	c := &Conn{
		EventSource: reactor.NewEventSource(r),
		fd:          fd,
		IP:          ip,
		Port:        port,
		connected:   true,
		inputPaused: true,
		readBuf:     make([]byte, ReadBufSize),
	}
	c.RegisterFD(fd, "")
	c.On("fd_readable", func(...interface{}) { c.handleReadable() })
	c.On("fd_writable", func(...interface{}) { c.handleWritable() })
	c.On("fd_close", func(...interface{}) { c.handleClose() })
	return c
}

// Connected reports whether the socket is still open from this side's
// point of view.
func (c *Conn) Connected() bool { return c.connected }

func (c *Conn) handleReadable() {
	n, err := unix.Read(c.fd, c.readBuf)
	if err != nil {
		if blockErrs[err] {
			return
		}
		if closeErrs[err] {
			c.handleClose()
			return
		}
		c.Emit("error", err)
		return
	}
	if n == 0 {
		c.handleClose()
		return
	}
	chunk := make([]byte, n)
	copy(chunk, c.readBuf[:n])
	c.Emit("data", chunk)
}

func (c *Conn) handleWritable() {
	if len(c.writeBuf) > 0 {
		data := joinBytes(c.writeBuf)
		sent, err := unix.Write(c.fd, data)
		if err != nil {
			if blockErrs[err] {
				return
			}
			if closeErrs[err] {
				c.handleClose()
				return
			}
			c.Emit("error", err)
			return
		}
		if sent < len(data) {
			c.writeBuf = [][]byte{data[sent:]}
		} else {
			c.writeBuf = nil
		}
	}
	if c.outputPaused && len(c.writeBuf) < WriteBufSize {
		c.outputPaused = false
		c.Emit("pause", false)
	}
	if c.closing && len(c.writeBuf) == 0 {
		c.closeNow()
		return
	}
	if len(c.writeBuf) == 0 {
		c.EventDel("fd_writable")
	}
}

// Write queues data for sending. When the queue grows past WriteBufSize,
// "pause(true)" is emitted as advisory backpressure; the caller may ignore
// it, at the cost of unbounded buffer growth.
func (c *Conn) Write(data []byte) {
	if !c.connected || c.closing {
		return
	}
	c.writeBuf = append(c.writeBuf, data)
	if len(c.writeBuf) > WriteBufSize {
		c.outputPaused = true
		c.Emit("pause", true)
	}
	c.EventAdd("fd_writable")
}

// Pause stops (true) or resumes (false) emitting "data". Bytes already in
// the kernel's receive buffer are retained, not dropped, while paused.
// Connections start paused.
func (c *Conn) Pause(paused bool) {
	if paused {
		c.EventDel("fd_readable")
	} else {
		c.EventAdd("fd_readable")
	}
	c.inputPaused = paused
}

// Close flushes any buffered writes, then closes the connection. If writes
// are still pending, the close happens once the buffer drains.
func (c *Conn) Close() {
	if !c.connected {
		return
	}
	c.Pause(true)
	if len(c.writeBuf) > 0 {
		c.closing = true
	} else {
		c.closeNow()
	}
}

// Release detaches this Conn from the reactor without closing the socket
// and returns its file descriptor, handing ownership to the caller. Used
// when a higher layer (tlsconn) needs to take over raw I/O on the same fd,
// e.g. to perform a TLS handshake.
func (c *Conn) Release() int {
	fd := c.fd
	c.connected = false
	c.RemoveListeners("fd_readable", "fd_writable", "fd_error", "fd_close")
	c.UnregisterFD()
	return fd
}

func (c *Conn) handleClose() {
	c.closeNow()
	c.Emit("close")
}

func (c *Conn) closeNow() {
	if !c.connected {
		return
	}
	c.connected = false
	c.RemoveListeners("fd_readable", "fd_writable", "fd_error", "fd_close")
	c.UnregisterFD()
	unix.Close(c.fd)
}

func joinBytes(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
