// Package httpserver is an asynchronous HTTP/1.1 server: it accepts
// connections, decodes requests off each one with httpmsg's push-fed codec,
// and hands the application a sequence of Exchange values to answer —
// in order, since HTTP/1.1 pipelining means more than one request can be
// in flight on a connection at once.
package httpserver

import (
	"net"

	"github.com/searchktools/reactor-http/reactor"
	"github.com/searchktools/reactor-http/transport"
)

// Server is an asynchronous HTTP server bound to one listening socket.
//
// Emits: "start" (), "stop" (), "exchange" (*Exchange).
type Server struct {
	*reactor.EventEmitter

	// IdleTimeout is how long a connection with no outstanding exchange is
	// kept open waiting for the next request before it's closed.
	IdleTimeout float64 // seconds
	// Careful, if false, tolerates recoverable parsing anomalies instead of
	// tearing the connection down on the first one.
	Careful bool

	reactor *reactor.Reactor
	tcp     *transport.Server

	// openExchanges counts exchanges created (request received) but not
	// yet responded to, across every connection this server has accepted.
	// shuttingDown, once set by Shutdown, defers the "stop" emit until
	// this drains to zero instead of firing immediately.
	openExchanges int
	shuttingDown  bool
}

// New returns a Server bound to r, not yet listening.
func New(r *reactor.Reactor) *Server {
	s := &Server{
		EventEmitter: reactor.NewEventEmitter(),
		IdleTimeout:  60,
		Careful:      true,
		reactor:      r,
		tcp:          transport.NewServer(r),
	}
	s.tcp.On("accept", func(args ...interface{}) { s.handleConn(args[0].(*transport.Conn)) })
	return s
}

// Listen binds and starts accepting connections on ip:port, then schedules
// the "start" event for the next loop iteration, never emitting
// synchronously from inside a method call that looks like a constructor.
func (s *Server) Listen(ip net.IP, port int, backlog int) error {
	if err := s.tcp.Listen(ip, port, backlog); err != nil {
		return err
	}
	s.reactor.Schedule(0, func() { s.Emit("start") })
	return nil
}

func (s *Server) handleConn(conn *transport.Conn) {
	httpConn := newConnection(conn, s)
	conn.On("data", func(args ...interface{}) { httpConn.handleInput(args[0].([]byte)) })
	conn.Once("close", func(...interface{}) { httpConn.connClosed() })
	conn.On("pause", func(args ...interface{}) { httpConn.resBodyPause(args[0].(bool)) })
	conn.Pause(false)
}

// Port reports the bound listening port, useful after Listen was called
// with port 0 to pick an OS-assigned ephemeral port.
func (s *Server) Port() int {
	return s.tcp.Port
}

// Shutdown stops accepting new connections (closing the front door). If no
// exchange is currently in flight, "stop" fires right away; otherwise it's
// deferred until every exchange already accepted across every open
// connection has completed its response, so an in-flight request still
// gets answered instead of being cut off mid-exchange.
func (s *Server) Shutdown() {
	s.tcp.Close()
	if s.openExchanges == 0 {
		s.Emit("stop")
		return
	}
	s.shuttingDown = true
}

// trackExchangeStarted records a newly created exchange as in flight.
func (s *Server) trackExchangeStarted() {
	s.openExchanges++
}

// trackExchangeFinished records one in-flight exchange completing (whether
// by a full response or its connection closing out from under it), and
// fires the deferred "stop" once none remain.
func (s *Server) trackExchangeFinished() {
	if s.openExchanges > 0 {
		s.openExchanges--
	}
	if s.shuttingDown && s.openExchanges == 0 {
		s.shuttingDown = false
		s.Emit("stop")
	}
}
