// Package httpclient is an asynchronous, connection-pooling HTTP/1.1
// client: per-origin idle reuse, a bounded number of connections per
// origin with FIFO waiters past that bound, and automatic retry of
// idempotent requests against a fresh connection when a reused one turns
// out to be dead.
package httpclient

import (
	"net"

	"github.com/searchktools/reactor-http/dnsresolve"
	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/reactor"
)

type connectCallback func(*Connection)
type connectErrorCallback func(kind, code string, detail string)

type pendingConnect struct {
	onConnect connectCallback
	onError   connectErrorCallback
}

// Client holds the connection pool and policy knobs shared by every
// Exchange created from it.
type Client struct {
	Reactor *reactor.Reactor

	// IdleTimeout is how long an idle connection is kept before being
	// closed; 0 disables keep-alive entirely (every connection closes
	// after one exchange).
	IdleTimeout float64 // seconds
	// ConnectAttempts bounds how many of the resolved addresses for an
	// origin are tried (cycling modulo the result count) before giving up.
	ConnectAttempts int
	ConnectTimeout  float64 // seconds
	// ReadTimeout, if > 0, tears down a connection that goes this long
	// without producing more of the response (the timer restarts at the
	// response head and after every body chunk).
	ReadTimeout float64 // seconds
	RetryLimit  int
	RetryDelay  float64 // seconds
	// MaxServerConn caps concurrent connections per origin; exchanges
	// past the cap queue FIFO until one frees up.
	MaxServerConn int
	// CheckIP, if set, is consulted before connecting to a resolved
	// address — the hook point for refusing private/loopback targets.
	CheckIP func(net.IP) bool
	// Careful, if false, tolerates recoverable parsing anomalies instead
	// of tearing down the connection on the first one.
	Careful bool

	// Resolver performs the DNS lookups the connect orchestration needs.
	Resolver *dnsresolve.Resolver

	idleConns  map[httpmsg.Origin][]*Connection
	connCounts map[httpmsg.Origin]int
	reqQ       map[httpmsg.Origin][]pendingConnect
}

// New returns a Client with conservative default policy knobs, bound to r.
func New(r *reactor.Reactor) *Client {
	c := &Client{
		Reactor:         r,
		IdleTimeout:     60,
		ConnectAttempts: 3,
		ConnectTimeout:  3,
		RetryLimit:      2,
		RetryDelay:      0.5,
		MaxServerConn:   6,
		Careful:         true,
		Resolver:        dnsresolve.New(r),
		idleConns:       make(map[httpmsg.Origin][]*Connection),
		connCounts:      make(map[httpmsg.Origin]int),
		reqQ:            make(map[httpmsg.Origin][]pendingConnect),
	}
	r.Once("stop", func(...interface{}) { c.closeIdleConns() })
	return c
}

// Exchange starts a new request/response exchange on this client.
func (c *Client) Exchange() *Exchange {
	return newExchange(c)
}

// attachConn hands onConnect an idle connection for origin if one exists,
// otherwise initiates (or queues) a new one. A connection's "data"/"pause"/
// "close" wiring is set up exactly once, at construction, and persists
// across idle/reuse cycles — only its Pause state changes.
func (c *Client) attachConn(origin httpmsg.Origin, onConnect connectCallback, onError connectErrorCallback) {
	for {
		pool := c.idleConns[origin]
		if len(pool) == 0 {
			delete(c.idleConns, origin)
			c.newConn(origin, onConnect, onError)
			return
		}
		conn := pool[len(pool)-1]
		c.idleConns[origin] = pool[:len(pool)-1]
		if len(c.idleConns[origin]) == 0 {
			delete(c.idleConns, origin)
		}
		if conn.wireConnected() {
			if conn.idler != nil {
				conn.idler.Delete()
				conn.idler = nil
			}
			onConnect(conn)
			return
		}
		// dead idle connection: loop and try the next one.
	}
}

// releaseConn hands conn straight to the first queued waiter for its origin
// if there is one; otherwise it returns conn to the idle pool for reuse, or
// tears it down if keep-alive is disabled.
func (c *Client) releaseConn(conn *Connection) {
	if !conn.wireConnected() {
		return
	}
	origin := conn.origin

	if waiters := c.reqQ[origin]; len(waiters) > 0 {
		next := waiters[0]
		c.reqQ[origin] = waiters[1:]
		if len(c.reqQ[origin]) == 0 {
			delete(c.reqQ, origin)
		}
		next.onConnect(conn)
		return
	}

	if c.IdleTimeout <= 0 {
		c.deadConn(conn)
		return
	}

	conn.wire.Pause(true)
	conn.idler = c.Reactor.Schedule(secondsToDuration(c.IdleTimeout), func() { c.deadConn(conn) })
	c.idleConns[origin] = append(c.idleConns[origin], conn)
}

// deadConn tears conn down for good: closes its wire if still open, prunes
// it from the idle pool if it was sitting there, and accounts for its
// origin losing one connection, promoting a queued waiter into a new
// connection attempt if this was the last one. Idempotent — a connection
// whose wire closes on its own while idle, and whose idle timer then also
// fires, only gets torn down once.
func (c *Client) deadConn(conn *Connection) {
	if conn.dead {
		return
	}
	conn.dead = true

	origin := conn.origin
	if conn.idler != nil {
		conn.idler.Delete()
		conn.idler = nil
	}
	c.forgetIdle(conn)
	if conn.wireConnected() {
		conn.wire.Close()
	}
	conn.tcpConnected = false

	c.connCounts[origin]--
	if c.connCounts[origin] <= 0 {
		delete(c.connCounts, origin)
		if waiters := c.reqQ[origin]; len(waiters) > 0 {
			next := waiters[0]
			c.reqQ[origin] = waiters[1:]
			if len(c.reqQ[origin]) == 0 {
				delete(c.reqQ, origin)
			}
			c.newConn(origin, next.onConnect, next.onError)
		}
	}
}

func (c *Client) forgetIdle(conn *Connection) {
	pool := c.idleConns[conn.origin]
	for i, ic := range pool {
		if ic == conn {
			c.idleConns[conn.origin] = append(pool[:i], pool[i+1:]...)
			break
		}
	}
	if len(c.idleConns[conn.origin]) == 0 {
		delete(c.idleConns, conn.origin)
	}
}

func (c *Client) newConn(origin httpmsg.Origin, onConnect connectCallback, onError connectErrorCallback) {
	if c.connCounts[origin] >= c.MaxServerConn {
		c.reqQ[origin] = append(c.reqQ[origin], pendingConnect{onConnect, onError})
		return
	}
	initiateConnection(c, origin, onConnect, onError)
}

func (c *Client) closeIdleConns() {
	for origin, pool := range c.idleConns {
		for _, conn := range pool {
			if conn.wire != nil {
				conn.wire.Close()
			}
		}
		delete(c.idleConns, origin)
	}
}

