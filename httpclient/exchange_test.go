package httpclient

import (
	"strings"
	"testing"
	"time"

	"github.com/searchktools/reactor-http/httpmsg"
)

func TestRequestStartBuffersUntilConnected(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)

	x.RequestStart("GET", "http://example.com/foo", nil)
	x.RequestDone(nil)

	if x.conn != nil {
		t.Fatal("exchange should have no connection yet; attachConn queued it")
	}
	if len(x.outputQ) != 2 {
		t.Fatalf("outputQ = %d items, want 2 (start, end)", len(x.outputQ))
	}
	if x.outputQ[0].kind != "start" || x.outputQ[1].kind != "end" {
		t.Fatalf("outputQ kinds = %q, %q", x.outputQ[0].kind, x.outputQ[1].kind)
	}
}

func TestHandleConnectFlushesQueuedOutput(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	x.RequestStart("GET", "http://example.com/foo", nil)
	x.RequestDone(nil)

	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)
	x.handleConnect(conn)

	if x.conn != conn {
		t.Fatal("handleConnect should attach the connection to the exchange")
	}
	if len(x.outputQ) != 0 {
		t.Fatal("outputQ should be drained once a connection attaches")
	}
	if len(wire.writes) == 0 {
		t.Fatal("expected the buffered start/end to be flushed onto the wire")
	}
	full := string(joinWrites(wire.writes))
	if !strings.HasPrefix(full, "GET /foo HTTP/1.1\r\n") {
		t.Fatalf("request top line wrong: %q", full)
	}
	if !strings.Contains(full, "Host: example.com\r\n") {
		t.Fatalf("expected a synthesized Host header, got %q", full)
	}
}

func TestRequestStartStripsHopByHopAndHostHeaders(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	x.RequestStart("GET", "http://example.com/foo", []httpmsg.Header{
		{Name: []byte("Host"), Value: []byte("attacker.example")},
		{Name: []byte("Connection"), Value: []byte("close")},
		{Name: []byte("X-App"), Value: []byte("yes")},
	})
	x.RequestDone(nil)
	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)
	x.handleConnect(conn)

	full := string(joinWrites(wire.writes))
	if strings.Contains(full, "attacker.example") {
		t.Fatalf("caller-supplied Host header should be stripped, got %q", full)
	}
	if strings.Count(full, "Host:") != 1 {
		t.Fatalf("expected exactly one Host header, got %q", full)
	}
	if !strings.Contains(full, "X-App: yes") {
		t.Fatalf("non-hop-by-hop header should survive, got %q", full)
	}
}

func TestRequestBodyUsesChunkedWithoutContentLength(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	x.RequestStart("POST", "http://example.com/foo", nil)
	x.RequestBody([]byte("hello"))
	x.RequestDone(nil)

	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)
	x.handleConnect(conn)

	full := string(joinWrites(wire.writes))
	if !strings.Contains(full, "Transfer-Encoding: chunked") {
		t.Fatalf("expected chunked framing for a bodied request with no Content-Length, got %q", full)
	}
}

func TestCancelKillsTheConnection(t *testing.T) {
	c := newTestClient(t)
	c.connCounts[testOrigin] = 1
	x := newExchange(c)
	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)
	x.conn = conn

	x.Cancel()

	if !wire.closed {
		t.Fatal("Cancel should close the underlying wire")
	}
	if _, exists := c.connCounts[testOrigin]; exists {
		t.Fatal("Cancel should tear the connection down via deadConn")
	}
}

func TestConnClosedIgnoredAfterResponseComplete(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	x.responseComplete = true

	var errored bool
	x.On("error", func(...interface{}) { errored = true })
	x.connClosed("waiting", httpmsg.DelimiterClose)

	if errored {
		t.Fatal("connClosed should be a no-op once the response already completed")
	}
}

func TestConnClosedEndsCloseDelimitedBodyNormally(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)
	x.conn = conn
	conn.activeExchange = x

	var done bool
	x.On("response_done", func(...interface{}) { done = true })
	x.connClosed("waiting", httpmsg.DelimiterClose)

	if !done {
		t.Fatal("a close-delimited body should be treated as a normal end when the peer closes")
	}
}

func TestConnClosedReportsErrorForNonIdempotentMethod(t *testing.T) {
	c := newTestClient(t)
	x := newExchange(c)
	x.method = "POST"

	var gotErr *httpmsg.Error
	x.On("error", func(args ...interface{}) { gotErr = args[0].(*httpmsg.Error) })
	x.connClosed("waiting", httpmsg.DelimiterCounted)

	if gotErr == nil {
		t.Fatal("a non-idempotent method should be reported as an error, not retried")
	}
}

func TestReadTimeoutTearsDownStalledConnection(t *testing.T) {
	c := newTestClient(t)
	c.ReadTimeout = 0.02 // 20ms
	c.connCounts[testOrigin] = 1
	wire := newFakeWire()
	conn := newConnection(c, testOrigin, wire)

	x := newExchange(c)
	x.RequestStart("GET", "http://example.com/foo", nil)
	x.RequestDone(nil)

	var gotErr *httpmsg.Error
	x.On("error", func(args ...interface{}) {
		gotErr = args[0].(*httpmsg.Error)
		c.Reactor.Stop()
	})

	x.handleConnect(conn)

	c.Reactor.Schedule(500*time.Millisecond, func() { c.Reactor.Stop() }) // safety net
	c.Reactor.Run()

	if gotErr == nil {
		t.Fatal("expected ReadTimeout to tear the stalled connection down")
	}
	if gotErr.Kind != httpmsg.KindReadTimeout {
		t.Fatalf("err.Kind = %v, want KindReadTimeout", gotErr.Kind)
	}
	if !wire.closed {
		t.Fatal("a read timeout should close the underlying wire")
	}
}

func joinWrites(writes [][]byte) []byte {
	var out []byte
	for _, w := range writes {
		out = append(out, w...)
	}
	return out
}
