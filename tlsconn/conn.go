package tlsconn

import (
	"crypto/tls"
	"sync"

	"github.com/searchktools/reactor-http/reactor"
)

// Conn is the TLS analogue of transport.Conn: same "data"/"close" event
// surface, same start-paused invariant, but backed by a *tls.Conn driven
// from a pair of background goroutines rather than readiness events, since
// crypto/tls has no non-blocking mode. All events it emits are posted onto
// the owning Reactor's own goroutine, so consumers never need to think
// about the goroutines underneath.
type Conn struct {
	*reactor.EventEmitter

	reactor *reactor.Reactor
	conn    *tls.Conn

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	closing bool
	closed  bool
	writeQ  [][]byte
}

func newConn(r *reactor.Reactor, t *tls.Conn) *Conn {
	c := &Conn{
		EventEmitter: reactor.NewEventEmitter(),
		reactor:      r,
		conn:         t,
		paused:       true,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// ConnectionState exposes the negotiated TLS parameters (cipher suite,
// protocol version, ALPN, peer certificates).
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.conn.ConnectionState()
}

// Write queues data for sending over the session. Unlike transport.Conn,
// there is no advisory "pause" backpressure signal here: the write goroutine
// applies its own blocking backpressure, and an unbounded producer still
// grows writeQ, exactly as an unbounded producer would grow transport.Conn's
// buffer past WriteBufSize.
func (c *Conn) Write(data []byte) {
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		return
	}
	c.writeQ = append(c.writeQ, data)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Conn) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.writeQ) == 0 && !c.closing {
			c.cond.Wait()
		}
		if len(c.writeQ) == 0 {
			c.mu.Unlock()
			c.conn.Close()
			return
		}
		pending := c.writeQ
		c.writeQ = nil
		c.mu.Unlock()

		for _, chunk := range pending {
			if _, err := c.conn.Write(chunk); err != nil {
				c.reactor.Post(func() { c.handleClose() })
				return
			}
		}
	}
}

// Pause stops (true) or resumes (false) emitting "data". Connections start
// paused.
func (c *Conn) Pause(paused bool) {
	c.mu.Lock()
	c.paused = paused
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Conn) readLoop() {
	buf := make([]byte, 16*1024)
	for {
		c.mu.Lock()
		for c.paused && !c.closed {
			c.cond.Wait()
		}
		done := c.closed
		c.mu.Unlock()
		if done {
			return
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			c.reactor.Post(func() { c.handleClose() })
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		data := chunk
		c.reactor.Post(func() { c.Emit("data", data) })
	}
}

// Close flushes queued writes, then closes the session. Safe to call more
// than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed || c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Conn) handleClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	c.conn.Close()
	c.Emit("close")
}
