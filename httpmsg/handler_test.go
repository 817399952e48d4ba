package httpmsg

import (
	"bytes"
	"testing"
)

type recordedMessage struct {
	topLine       string
	headers       []Header
	connTokens    []string
	transferCodes []string
	contentLength *int
	body          []byte
	trailers      []Header
	ended         bool
	errs          []*Error
}

func newRecorder(t *testing.T, careful bool) (*Handler, *recordedMessage) {
	t.Helper()
	rec := &recordedMessage{}
	h := &Handler{Careful: careful}
	h.OnInputStart = func(topLine []byte, hdrs []Header, connTokens, transferCodes []string, contentLength *int) (bool, bool, error) {
		rec.topLine = string(topLine)
		rec.headers = hdrs
		rec.connTokens = connTokens
		rec.transferCodes = transferCodes
		rec.contentLength = contentLength
		return contentLength != nil || len(transferCodes) > 0, true, nil
	}
	h.OnInputBody = func(chunk []byte) { rec.body = append(rec.body, chunk...) }
	h.OnInputEnd = func(trailers []Header) { rec.ended = true; rec.trailers = trailers }
	h.OnInputError = func(err *Error) { rec.errs = append(rec.errs, err) }
	return h, rec
}

func TestHandlerCountedBody(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))

	if rec.topLine != "HTTP/1.1 200 OK" {
		t.Fatalf("topLine = %q", rec.topLine)
	}
	if !rec.ended {
		t.Fatal("message never ended")
	}
	if string(rec.body) != "hello" {
		t.Fatalf("body = %q, want hello", rec.body)
	}
	if rec.contentLength == nil || *rec.contentLength != 5 {
		t.Fatalf("contentLength = %v, want 5", rec.contentLength)
	}
	if h.InputDelimit() != DelimiterCounted {
		t.Fatalf("delimiter = %v, want counted", h.InputDelimit())
	}
}

func TestHandlerHeadersSplitAcrossReads(t *testing.T) {
	h, rec := newRecorder(t, true)

	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n"))
	if !h.Pending() {
		t.Fatal("Pending() should be true with an incomplete header block")
	}
	h.Handle([]byte("\r\nhi"))

	if !rec.ended {
		t.Fatal("message never ended after the header block completed")
	}
	if string(rec.body) != "hi" {
		t.Fatalf("body = %q, want hi", rec.body)
	}
}

func TestHandlerBodySplitAcrossReads(t *testing.T) {
	h, rec := newRecorder(t, true)

	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhe"))
	h.Handle([]byte("llo"))

	if string(rec.body) != "hello" {
		t.Fatalf("body = %q, want hello", rec.body)
	}
	if !rec.ended {
		t.Fatal("message never ended")
	}
}

func TestHandlerChunkedWithTrailers(t *testing.T) {
	h, rec := newRecorder(t, true)

	msg := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\nX-Trailer: abc\r\n\r\n"
	h.Handle([]byte(msg))

	if h.InputDelimit() != DelimiterChunked {
		t.Fatalf("delimiter = %v, want chunked", h.InputDelimit())
	}
	if string(rec.body) != "hello" {
		t.Fatalf("body = %q, want hello", rec.body)
	}
	if !rec.ended {
		t.Fatal("message never ended")
	}
	if len(rec.trailers) != 1 || string(rec.trailers[0].Name) != "X-Trailer" {
		t.Fatalf("trailers = %+v", rec.trailers)
	}
}

func TestHandlerChunkedSplitMidChunk(t *testing.T) {
	h, rec := newRecorder(t, true)

	h.Handle([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhel"))
	h.Handle([]byte("lo\r\n0\r\n\r\n"))

	if string(rec.body) != "hello" {
		t.Fatalf("body = %q, want hello", rec.body)
	}
	if !rec.ended {
		t.Fatal("message never ended")
	}
}

func TestHandlerDuplicateContentLengthMatchingIsFine(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello"))

	if len(rec.errs) != 0 {
		t.Fatalf("unexpected errors: %v", rec.errs)
	}
	if rec.contentLength == nil || *rec.contentLength != 5 {
		t.Fatalf("contentLength = %v, want 5", rec.contentLength)
	}
}

func TestHandlerDuplicateContentLengthConflictingAbortsUnderCareful(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello"))

	if rec.topLine != "" {
		t.Fatal("OnInputStart should not have been reached after a conflicting Content-Length")
	}
	if len(rec.errs) != 1 || rec.errs[0].Kind != KindDuplicateCL {
		t.Fatalf("errs = %+v, want one KindDuplicateCL", rec.errs)
	}
}

func TestHandlerDuplicateContentLengthConflictingTolerantWhenNotCareful(t *testing.T) {
	h, rec := newRecorder(t, false)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello"))

	if len(rec.errs) != 1 || rec.errs[0].Kind != KindDuplicateCL {
		t.Fatalf("errs = %+v, want one KindDuplicateCL", rec.errs)
	}
	if rec.topLine == "" {
		t.Fatal("parsing should have continued past the non-careful error")
	}
}

func TestHandlerObsFoldHeaderContinuation(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nX-Custom: abc\r\n def\r\nContent-Length: 0\r\n\r\n"))

	var got string
	for _, hd := range rec.headers {
		if bytes.EqualFold(hd.Name, []byte("X-Custom")) {
			got = string(hd.Value)
		}
	}
	if got != " abc def" {
		t.Fatalf("folded header value = %q, want \" abc def\"", got)
	}
}

func TestHandlerTransferEncodingWinsOverContentLength(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"))

	if rec.contentLength != nil {
		t.Fatalf("contentLength = %v, want nil (Transfer-Encoding should win)", rec.contentLength)
	}
	if h.InputDelimit() != DelimiterChunked {
		t.Fatalf("delimiter = %v, want chunked", h.InputDelimit())
	}
}

func TestHandlerStashThenHandleFlushes(t *testing.T) {
	h, rec := newRecorder(t, true)

	h.Stash([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"))
	if !h.Pending() {
		t.Fatal("Pending() should report the stashed bytes")
	}
	h.Handle([]byte("hello"))

	if string(rec.body) != "hello" || !rec.ended {
		t.Fatalf("stash+Handle did not deliver the message: body=%q ended=%v", rec.body, rec.ended)
	}
}

func TestHandlerStashThenHandleNilFlushes(t *testing.T) {
	h, rec := newRecorder(t, true)

	h.Stash([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	h.Handle(nil)

	if string(rec.body) != "hello" || !rec.ended {
		t.Fatalf("stash+Handle(nil) did not flush the message: body=%q ended=%v", rec.body, rec.ended)
	}
}

func TestHandlerNoBodyDelimiterSkipsBody(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.OnInputStart = func(topLine []byte, hdrs []Header, connTokens, transferCodes []string, contentLength *int) (bool, bool, error) {
		rec.topLine = string(topLine)
		return false, true, nil // e.g. a HEAD response or 204
	}
	h.Handle([]byte("HTTP/1.1 204 No Content\r\n\r\n"))

	if !rec.ended {
		t.Fatal("no-body message should still signal end immediately")
	}
	if len(rec.body) != 0 {
		t.Fatalf("body = %q, want empty", rec.body)
	}
}

func TestHandlerResetReturnsToInitialState(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	h.Reset()

	if h.Pending() {
		t.Fatal("Reset should clear any pending buffer")
	}
	if h.InputHeaderLength != 0 || h.InputTransferLength != 0 {
		t.Fatal("Reset should clear the diagnostic length counters")
	}

	rec.ended = false
	rec.body = nil
	h.Handle([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	if string(rec.body) != "hi" || !rec.ended {
		t.Fatal("handler did not parse a fresh message correctly after Reset")
	}
}

func TestHandlerPipelinedFloodAbortsWithTooManyMsgs(t *testing.T) {
	h, rec := newRecorder(t, true)
	h.OnInputStart = func(topLine []byte, hdrs []Header, connTokens, transferCodes []string, contentLength *int) (bool, bool, error) {
		return false, true, nil // zero-body message, re-enters handle() immediately
	}

	one := []byte("HTTP/1.1 200 OK\r\n\r\n")
	flood := bytes.Repeat(one, maxHandleDepth+10)

	h.Handle(flood)

	if len(rec.errs) == 0 || rec.errs[len(rec.errs)-1].Kind != KindTooManyMsgs {
		t.Fatalf("errs = %v, want a trailing KindTooManyMsgs", rec.errs)
	}
	if h.InputState() != "error" {
		t.Fatalf("InputState() = %q, want error after the flood abort", h.InputState())
	}

	// Further input must be silently discarded, not re-parsed.
	rec.errs = nil
	h.Handle(one)
	if len(rec.errs) != 0 {
		t.Fatalf("errs after abort = %v, want none (state should stay ERROR)", rec.errs)
	}
}
