package httpclient

import (
	"bytes"

	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/reactor"
)

// Connection is a single persistent connection to an origin: the push-fed
// message handler driving whichever wire (plain TCP or TLS) is carrying it.
//
// Emits: "close" (), "pause" (bool) — informational; the pool itself reacts
// to the underlying wire's own "close"/"pause" events, not these.
type Connection struct {
	*reactor.EventEmitter

	client *Client
	origin httpmsg.Origin
	wire   wireConn

	tcpConnected bool
	handler      *httpmsg.Handler

	activeExchange     *Exchange
	lastActiveExchange *Exchange

	resVersion string
	reusable   bool

	// dead guards deadConn against running its teardown accounting twice
	// for the same connection (e.g. an idle timer firing just after the
	// peer's own close already tore it down).
	dead bool

	idler         *reactor.ScheduledEvent
	readTimeoutEv *reactor.ScheduledEvent
}

func newConnection(client *Client, origin httpmsg.Origin, wire wireConn) *Connection {
	c := &Connection{
		EventEmitter: reactor.NewEventEmitter(),
		client:       client,
		origin:       origin,
		wire:         wire,
		tcpConnected: true,
	}
	c.handler = &httpmsg.Handler{
		Careful:      client.Careful,
		OnInputStart: c.inputStart,
		OnInputBody:  c.inputBody,
		OnInputEnd:   c.inputEnd,
		OnInputError: c.inputError,
		Output:       func(data []byte) { c.wire.Write(data) },
	}

	wire.On("data", func(args ...interface{}) { c.handleInput(args[0].([]byte)) })
	wire.Once("close", func(...interface{}) { c.connClosed() })
	wire.On("pause", func(args ...interface{}) { c.connPaused(args[0].(bool)) })
	return c
}

// handleInput overrides the handler's own push point: while there's no
// active exchange and the connection is still reusable, incoming bytes
// (e.g. a server writing before we've reattached) are stashed instead of
// parsed, so a later attach can pick up without losing them.
func (c *Connection) handleInput(in []byte) {
	if c.activeExchange != nil || !c.reusable {
		c.handler.Handle(in)
	} else {
		c.handler.Stash(in)
	}
}

// attach binds exchange as the connection's active exchange and resets the
// handler for a fresh request/response cycle.
func (c *Connection) attach(exchange *Exchange) {
	c.activeExchange = exchange
	c.lastActiveExchange = nil
	c.handler.Careful = exchange.careful
	c.reusable = false
	c.handler.Reset()
	c.wire.Pause(false)
	if c.handler.Pending() {
		c.handler.Handle(nil)
	}
	c.armReadTimeout("connect")
}

// detach clears the active exchange, remembering it as last-active so a
// conn_closed/input_error arriving afterward can still be routed somewhere.
func (c *Connection) detach() {
	c.lastActiveExchange = c.activeExchange
	c.activeExchange = nil
}

func (c *Connection) close() {
	c.wire.Close()
}

func (c *Connection) kill() {
	if c.wireConnected() {
		c.close()
	}
	c.client.deadConn(c)
}

func (c *Connection) wireConnected() bool {
	return c.wire != nil && c.tcpConnected
}

// armReadTimeout clears any pending read-timeout timer and, if the client
// has ReadTimeout configured, arms a fresh one labeled kind — the period
// during which this connection may go without producing more of the
// response before it's torn down. Re-armed after connecting, at the start
// of each response, and after every inbound body chunk, so a peer that goes
// silent mid-response is caught just like one that never responds at all.
func (c *Connection) armReadTimeout(kind string) {
	c.clearTimeout()
	if c.client.ReadTimeout <= 0 {
		return
	}
	c.readTimeoutEv = c.client.Reactor.Schedule(secondsToDuration(c.client.ReadTimeout), func() {
		c.inputError(&httpmsg.Error{Kind: httpmsg.KindReadTimeout, Detail: kind})
	})
}

func (c *Connection) clearTimeout() {
	if c.readTimeoutEv != nil {
		c.readTimeoutEv.Delete()
		c.readTimeoutEv = nil
	}
}

func (c *Connection) connClosed() {
	if c.handler.Pending() {
		c.handler.Handle(nil)
	}
	c.clearTimeout()
	c.tcpConnected = false
	c.client.deadConn(c)
	c.Emit("close")
	state, delimit := c.handler.InputState(), c.handler.InputDelimit()
	if c.activeExchange != nil {
		c.activeExchange.connClosed(state, delimit)
	} else if c.lastActiveExchange != nil {
		c.lastActiveExchange.connClosed(state, delimit)
	}
}

func (c *Connection) connPaused(paused bool) {
	c.Emit("pause", paused)
	if c.activeExchange != nil {
		c.activeExchange.reqBodyPause(paused)
	}
}

// Handler hooks.

func (c *Connection) inputStart(topLine []byte, hdrs []httpmsg.Header, connTokens, transferCodes []string, contentLength *int) (bool, bool, error) {
	c.clearTimeout()
	protoVersion, statusTxt, ok := splitFirstField(topLine)
	if !ok {
		err := &httpmsg.Error{Kind: httpmsg.KindStartLine, Detail: safeTopLine(topLine)}
		c.inputError(err)
		return false, false, err
	}
	slash := bytes.LastIndexByte(protoVersion, '/')
	if slash == -1 {
		err := &httpmsg.Error{Kind: httpmsg.KindHTTPVersion, Detail: safeTopLine(protoVersion)}
		c.inputError(err)
		return false, false, err
	}
	proto, resVersion := protoVersion[:slash], string(protoVersion[slash+1:])
	if string(proto) != "HTTP" || (resVersion != "1.0" && resVersion != "1.1") {
		err := &httpmsg.Error{Kind: httpmsg.KindHTTPVersion, Detail: safeTopLine(protoVersion)}
		c.inputError(err)
		return false, false, err
	}
	c.resVersion = resVersion

	resCode, resPhrase, hasPhrase := splitFirstField(statusTxt)
	if !hasPhrase {
		resCode = bytes.TrimSpace(statusTxt)
		resPhrase = nil
	}

	hasClose, hasKeepAlive := false, false
	for _, t := range connTokens {
		switch t {
		case "close":
			hasClose = true
		case "keep-alive":
			hasKeepAlive = true
		}
	}
	if !hasClose && ((c.resVersion == "1.0" && hasKeepAlive) || c.resVersion == "1.1") {
		c.reusable = true
	}
	c.handler.QuietAfterMessage = !c.reusable

	isFinal := len(resCode) == 0 || resCode[0] != '1'
	allowsBody := isFinal && !httpmsg.NoBodyStatus[string(resCode)]

	if c.activeExchange != nil {
		if c.activeExchange.method == "HEAD" {
			allowsBody = false
		}
		if isFinal {
			c.activeExchange.resVersion = c.resVersion
			c.activeExchange.Emit("response_start", string(resCode), string(resPhrase), hdrs)
		} else {
			c.activeExchange.Emit("response_nonfinal", string(resCode), string(resPhrase), hdrs)
		}
	}
	c.armReadTimeout("start")
	return allowsBody, isFinal, nil
}

func (c *Connection) inputBody(chunk []byte) {
	c.clearTimeout()
	if c.activeExchange != nil {
		c.activeExchange.Emit("response_body", chunk)
	}
	c.armReadTimeout("body")
}

func (c *Connection) inputEnd(trailers []httpmsg.Header) {
	c.clearTimeout()
	exchange := c.activeExchange
	c.detach()
	if c.reusable {
		c.client.releaseConn(c)
	} else {
		c.client.deadConn(c)
	}
	if exchange != nil {
		exchange.inputEndNotify(trailers)
	}
}

func (c *Connection) inputError(err *httpmsg.Error) {
	c.clearTimeout()
	exchange := c.activeExchange
	if exchange == nil {
		exchange = c.lastActiveExchange
	}
	c.client.deadConn(c)
	if exchange != nil {
		exchange.inputErrorNotify(err)
	}
}

func splitFirstField(b []byte) (first, rest []byte, ok bool) {
	i := bytes.IndexAny(b, " \t")
	if i == -1 {
		return b, nil, false
	}
	return b[:i], bytes.TrimLeft(b[i+1:], " \t"), true
}

func safeTopLine(b []byte) string {
	const max = 120
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
