package httpclient

import (
	"strings"

	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/reactor"
	"github.com/searchktools/reactor-http/transport"
)

// reqRemoveHeaders are stripped from the caller-supplied request headers
// before sending: hop-by-hop fields plus Host, which is always set from the
// parsed URI's authority instead.
var reqRemoveHeaders = map[string]bool{
	"connection": true, "keep-alive": true, "proxy-authenticate": true,
	"proxy-authorization": true, "te": true, "trailers": true,
	"transfer-encoding": true, "upgrade": true, "host": true,
}

type outputItem struct {
	kind     string // "start", "body", "end"
	topLine  []byte
	hdrs     []httpmsg.Header
	delimit  httpmsg.Delimiter
	chunk    []byte
	trailers []httpmsg.Header
}

// Exchange is a single request/response interaction against an origin.
// RequestStart/RequestBody/RequestDone drive the request side; subscribe to
// "response_start", "response_nonfinal", "response_body", "response_done",
// "error", and "pause" for the response side.
type Exchange struct {
	*reactor.EventEmitter

	client  *Client
	careful bool

	method     string
	uri        string
	reqHdrs    []httpmsg.Header
	reqTarget  string
	authority  string
	resVersion string

	origin httpmsg.Origin
	conn   *Connection

	reqBody          bool
	reqStarted       bool
	errorSent        bool
	retries          int
	outputQ          []outputItem
	responseComplete bool
}

func newExchange(client *Client) *Exchange {
	return &Exchange{
		EventEmitter: reactor.NewEventEmitter(),
		client:       client,
		careful:      client.Careful,
	}
}

// InputTransferLength reports the response body bytes received off the
// wire for this exchange so far.
func (x *Exchange) InputTransferLength() int {
	if x.conn != nil {
		return x.conn.handler.InputTransferLength
	}
	return 0
}

// InputHeaderLength reports the byte length of the response header block.
func (x *Exchange) InputHeaderLength() int {
	if x.conn != nil {
		return x.conn.handler.InputHeaderLength
	}
	return 0
}

// RequestStart begins a request to uri using method, where reqHdrs are the
// caller-supplied request headers.
func (x *Exchange) RequestStart(method, uri string, reqHdrs []httpmsg.Header) {
	x.method = method
	x.uri = uri
	x.reqHdrs = reqHdrs
	parsed, err := httpmsg.ParseURI(uri)
	if err != nil {
		x.inputError(err)
		return
	}
	x.origin = parsed.Origin
	x.authority = parsed.Authority
	x.reqTarget = parsed.ReqTarget
	x.client.attachConn(x.origin, x.handleConnect, x.handleConnectError)
}

func (x *Exchange) reqStart() {
	if x.reqStarted || x.errorSent {
		return
	}
	x.reqStarted = true
	var hdrs []httpmsg.Header
	for _, h := range x.reqHdrs {
		if !reqRemoveHeaders[strings.ToLower(string(h.Name))] {
			hdrs = append(hdrs, h)
		}
	}
	hdrs = append(hdrs, httpmsg.Header{Name: []byte("Host"), Value: []byte(x.authority)})
	if x.client.IdleTimeout == 0 {
		hdrs = append(hdrs, httpmsg.Header{Name: []byte("Connection"), Value: []byte("close")})
	}

	var delimit httpmsg.Delimiter
	switch {
	case httpmsg.HeaderNames(hdrs)["content-length"]:
		delimit = httpmsg.DelimiterCounted
	case x.reqBody:
		hdrs = append(hdrs, httpmsg.Header{Name: []byte("Transfer-Encoding"), Value: []byte("chunked")})
		delimit = httpmsg.DelimiterChunked
	default:
		delimit = httpmsg.DelimiterNoBody
	}

	topLine := []byte(x.method + " " + x.reqTarget + " HTTP/1.1")
	if x.conn != nil {
		x.conn.handler.OutputStart(topLine, hdrs, delimit)
	} else {
		x.outputQ = append(x.outputQ, outputItem{kind: "start", topLine: topLine, hdrs: hdrs, delimit: delimit})
	}
}

// RequestBody sends part of the request body. May be called zero to many
// times.
func (x *Exchange) RequestBody(chunk []byte) {
	x.reqBody = true
	x.reqStart()
	if x.conn != nil {
		x.conn.handler.OutputBody(chunk)
	} else {
		x.outputQ = append(x.outputQ, outputItem{kind: "body", chunk: chunk})
	}
}

// RequestDone signals the end of the request, whether or not there was a
// body. Must be called exactly once per request.
func (x *Exchange) RequestDone(trailers []httpmsg.Header) {
	x.reqStart()
	if x.conn != nil {
		if x.conn.handler.OutputEnd(trailers) {
			x.client.deadConn(x.conn)
		}
	} else {
		x.outputQ = append(x.outputQ, outputItem{kind: "end", trailers: trailers})
	}
}

// ResBodyPause temporarily stops (true) or restarts (false) the response
// body stream, e.g. because the application's own output is backed up.
func (x *Exchange) ResBodyPause(paused bool) {
	if x.conn != nil && x.conn.wireConnected() {
		x.conn.wire.Pause(paused)
	}
}

func (x *Exchange) handleConnect(conn *Connection) {
	x.conn = conn
	conn.attach(x)
	q := x.outputQ
	x.outputQ = nil
	for _, item := range q {
		switch item.kind {
		case "start":
			x.conn.handler.OutputStart(item.topLine, item.hdrs, item.delimit)
		case "body":
			x.conn.handler.OutputBody(item.chunk)
		case "end":
			if x.conn.handler.OutputEnd(item.trailers) {
				x.client.deadConn(x.conn)
			}
		}
	}
}

func (x *Exchange) handleConnectError(kind, code, detail string) {
	switch kind {
	case string(transport.ConnectErrDNS):
		x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: "dns lookup failed: " + detail})
	case string(transport.ConnectErrAccess):
		x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: "address rejected: " + detail})
	case string(transport.ConnectErrRetry):
		x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: detail})
	default:
		if x.retries < x.client.RetryLimit {
			x.client.Reactor.Schedule(secondsToDuration(x.client.RetryDelay), x.retry)
		} else {
			x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: detail})
		}
	}
}

// connClosed handles the server closing the connection before the response
// completed: a connection that closed between messages is retried for
// idempotent methods, a close-delimited body ends normally, anything else
// is reported as an error.
func (x *Exchange) connClosed(state string, delimit httpmsg.Delimiter) {
	if x.responseComplete {
		return
	}
	switch {
	case state == "quiet" || state == "error":
		// nothing to do: the message was already finished or already failed.
	case delimit == httpmsg.DelimiterClose:
		if x.conn != nil {
			x.conn.inputEnd(nil)
		}
	case state == "waiting":
		if httpmsg.IdempotentMethods[x.method] {
			if x.retries < x.client.RetryLimit {
				x.client.Reactor.Schedule(secondsToDuration(x.client.RetryDelay), x.retry)
			} else {
				x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: "tried to connect too many times"})
			}
		} else {
			x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: "can't retry " + x.method + " method"})
		}
	default:
		x.inputError(&httpmsg.Error{Kind: httpmsg.KindConnect, Detail: "server dropped connection before the response was complete"})
	}
}

// Cancel aborts the exchange, closing and discarding its connection (if
// any) rather than returning it to the idle pool.
func (x *Exchange) Cancel() {
	if x.conn != nil {
		x.conn.kill()
	}
}

func (x *Exchange) retry() {
	x.retries++
	x.client.attachConn(x.origin, x.handleConnect, x.handleConnectError)
}

func (x *Exchange) reqBodyPause(paused bool) {
	x.Emit("pause", paused)
}

func (x *Exchange) inputEndNotify(trailers []httpmsg.Header) {
	x.responseComplete = true
	x.Emit("response_done", trailers)
}

func (x *Exchange) inputErrorNotify(err *httpmsg.Error) {
	x.inputError(err)
}

func (x *Exchange) inputError(err error) {
	x.errorSent = true
	x.Emit("error", err)
}
