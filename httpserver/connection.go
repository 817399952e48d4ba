package httpserver

import (
	"bytes"

	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/reactor"
	"github.com/searchktools/reactor-http/transport"
)

// Connection is a single accepted HTTP server connection: the push-fed
// message handler driving it, and the queue of exchanges it has produced
// (more than one can be outstanding at a time under HTTP/1.1 pipelining).
type Connection struct {
	tcp    *transport.Conn
	server *Server

	handler *httpmsg.Handler

	exQueue      []*Exchange
	outputPaused bool
	idler        *reactor.ScheduledEvent
}

func newConnection(tcp *transport.Conn, server *Server) *Connection {
	c := &Connection{tcp: tcp, server: server}
	c.handler = &httpmsg.Handler{
		Careful:      server.Careful,
		OnInputStart: c.inputStart,
		OnInputBody:  c.inputBody,
		OnInputEnd:   c.inputEnd,
		OnInputError: c.inputError,
		Output:       c.output,
	}
	return c
}

// reqBodyPause asks the client to pause (true) or resume (false) sending
// the request body, e.g. because the application's own processing is
// backed up.
func (c *Connection) reqBodyPause(paused bool) {
	if c.tcp != nil {
		c.tcp.Pause(paused)
	}
}

// resBodyPause is called when the underlying wire can't absorb any more
// outbound bytes right now; once it un-pauses, any exchanges still waiting
// to start are kicked off.
func (c *Connection) resBodyPause(paused bool) {
	c.outputPaused = paused
	if !paused {
		c.drainExchangeQueue()
	}
}

func (c *Connection) handleInput(in []byte) {
	c.handler.Handle(in)
}

func (c *Connection) connClosed() {
	for _, ex := range c.exQueue {
		ex.markFinished()
	}
	c.exQueue = nil
	c.tcp = nil
}

func (c *Connection) output(data []byte) {
	if c.tcp != nil && c.tcp.Connected() {
		c.tcp.Write(data)
	}
}

// outputDone is called once a response has been fully framed; it arms the
// idle timer that will close the connection if no further request arrives
// in time.
func (c *Connection) outputDone() {
	if c.tcp == nil {
		return
	}
	tcp := c.tcp
	c.idler = c.server.reactor.Schedule(secondsToDuration(c.server.IdleTimeout), func() { tcp.Close() })
}

func (c *Connection) inputStart(topLine []byte, hdrs []httpmsg.Header, connTokens, transferCodes []string, contentLength *int) (allowsBody, isFinal bool, err error) {
	if c.idler != nil {
		c.idler.Delete()
		c.idler = nil
	}
	method, uri, version, ok := splitRequestLine(topLine)
	if !ok {
		e := &httpmsg.Error{Kind: httpmsg.KindHTTPVersion, Detail: safeTopLine(topLine)}
		c.inputError(e)
		return false, false, e
	}
	if !httpmsg.HeaderNames(hdrs)["host"] {
		e := &httpmsg.Error{Kind: httpmsg.KindHostRequired}
		c.inputError(e)
		return false, false, e
	}
	for _, code := range transferCodes {
		if code != "identity" && code != "chunked" {
			e := &httpmsg.Error{Kind: httpmsg.KindTransferCode, Detail: code}
			c.inputError(e)
			return false, false, e
		}
	}

	exchange := newExchange(c, string(method), string(uri), hdrs, string(version))
	c.exQueue = append(c.exQueue, exchange)
	c.server.Emit("exchange", exchange)
	if !c.outputPaused {
		exchange.requestStart()
	}

	allowsBody = (contentLength != nil && *contentLength > 0) || len(transferCodes) > 0
	return allowsBody, true, nil
}

func (c *Connection) inputBody(chunk []byte) {
	if len(c.exQueue) == 0 {
		return
	}
	c.exQueue[len(c.exQueue)-1].Emit("request_body", chunk)
}

func (c *Connection) inputEnd(trailers []httpmsg.Header) {
	if len(c.exQueue) == 0 {
		return
	}
	c.exQueue[len(c.exQueue)-1].Emit("request_done", trailers)
}

// inputError handles a parsing problem with a request that hasn't been
// queued as an exchange yet: a recoverable one is just reported, an
// unrecoverable one gets a synthesized error response and the connection
// is torn down.
func (c *Connection) inputError(err *httpmsg.Error) {
	if err.ServerRecoverable() {
		c.server.Emit("error", err)
		return
	}
	status, ok := err.ServerStatus()
	if !ok {
		status = [2]string{"500", "Internal Server Error"}
	}
	ex := newExchange(c, "", "", nil, "1.1")
	ex.responseStart(status[0], status[1], []httpmsg.Header{
		{Name: []byte("Content-Type"), Value: []byte("text/plain")},
	})
	body := err.Error()
	ex.responseBody([]byte(body))
	ex.responseDone(nil)
	c.exQueue = append(c.exQueue, ex)

	if c.tcp != nil {
		c.tcp.Close()
		c.tcp = nil
	}
}

// drainExchangeQueue kicks off any exchange that was queued while output
// was paused, now that there's room again.
func (c *Connection) drainExchangeQueue() {
	for _, ex := range c.exQueue {
		if !ex.started {
			ex.requestStart()
		}
	}
}

func splitRequestLine(topLine []byte) (method, uri, version []byte, ok bool) {
	fields := bytes.Fields(topLine)
	if len(fields) < 3 {
		return nil, nil, nil, false
	}
	method = fields[0]
	version = fields[len(fields)-1]
	uri = bytes.Join(fields[1:len(fields)-1], []byte(" "))
	slash := bytes.LastIndexByte(version, '/')
	if slash == -1 {
		return nil, nil, nil, false
	}
	version = version[slash+1:]
	return method, uri, version, true
}

func safeTopLine(b []byte) string {
	const max = 120
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
