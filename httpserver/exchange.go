package httpserver

import (
	"strconv"

	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/reactor"
)

// Exchange is a single request/response interaction on a server connection.
// Subscribe to "request_start", "request_body", and "request_done" for the
// request side; ResponseStart/ResponseBody/ResponseDone drive the response.
type Exchange struct {
	*reactor.EventEmitter

	conn *Connection

	Method     string
	URI        string
	ReqHeaders []httpmsg.Header
	ReqVersion string

	started  bool
	finished bool
}

func newExchange(conn *Connection, method, uri string, reqHdrs []httpmsg.Header, reqVersion string) *Exchange {
	x := &Exchange{
		EventEmitter: reactor.NewEventEmitter(),
		conn:         conn,
		Method:       method,
		URI:          uri,
		ReqHeaders:   reqHdrs,
		ReqVersion:   reqVersion,
	}
	conn.server.trackExchangeStarted()
	return x
}

// markFinished records this exchange as no longer in flight, exactly once
// — whether it got there via a completed response or its connection
// closing out from under it first.
func (x *Exchange) markFinished() {
	if x.finished {
		return
	}
	x.finished = true
	x.conn.server.trackExchangeFinished()
}

func (x *Exchange) requestStart() {
	x.started = true
	x.Emit("request_start", x.Method, x.URI, x.ReqHeaders)
}

// ResponseStart begins a response. Must only be called once per exchange.
func (x *Exchange) ResponseStart(statusCode, statusPhrase string, resHdrs []httpmsg.Header) {
	x.responseStart(statusCode, statusPhrase, resHdrs)
}

func (x *Exchange) responseStart(statusCode, statusPhrase string, resHdrs []httpmsg.Header) {
	var hdrs []httpmsg.Header
	for _, h := range resHdrs {
		if !httpmsg.HopByHopHeaders[lowerHeaderName(h.Name)] {
			hdrs = append(hdrs, h)
		}
	}

	var delimit httpmsg.Delimiter
	if _, ok := firstContentLength(hdrs); ok {
		delimit = httpmsg.DelimiterCounted
		hdrs = append(hdrs, httpmsg.Header{Name: []byte("Connection"), Value: []byte("keep-alive")})
	} else if x.ReqVersion == "1.1" {
		delimit = httpmsg.DelimiterChunked
		hdrs = append(hdrs, httpmsg.Header{Name: []byte("Transfer-Encoding"), Value: []byte("chunked")})
	} else {
		delimit = httpmsg.DelimiterClose
		hdrs = append(hdrs, httpmsg.Header{Name: []byte("Connection"), Value: []byte("close")})
	}

	topLine := []byte("HTTP/1.1 " + statusCode + " " + statusPhrase)
	x.conn.handler.OutputStart(topLine, hdrs, delimit)
}

// ResponseBody sends part of the response body. May be called zero to many
// times.
func (x *Exchange) ResponseBody(chunk []byte) {
	x.responseBody(chunk)
}

func (x *Exchange) responseBody(chunk []byte) {
	x.conn.handler.OutputBody(chunk)
}

// ResponseDone signals the end of the response, whether or not there was a
// body. Must be called exactly once per response.
func (x *Exchange) ResponseDone(trailers []httpmsg.Header) {
	x.responseDone(trailers)
}

func (x *Exchange) responseDone(trailers []httpmsg.Header) {
	defer x.markFinished()
	if x.conn.handler.OutputEnd(trailers) {
		if x.conn.tcp != nil {
			x.conn.tcp.Close()
		}
		return
	}
	x.conn.outputDone()
}

func lowerHeaderName(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func firstContentLength(hdrs []httpmsg.Header) (int, bool) {
	for _, h := range hdrs {
		if lowerHeaderName(h.Name) == "content-length" {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
