package httpmsg

import (
	"bytes"
	"strconv"
)

// StartFunc is called once a complete header (or trailer-less-body) block
// has arrived. It returns whether the message allows a body and whether
// this is the final message expected on the connection (a non-final
// message is a 1xx interim response). Returning a non-nil err aborts
// parsing of the rest of the input.
type StartFunc func(topLine []byte, hdrs []Header, connTokens, transferCodes []string, contentLength *int) (allowsBody, isFinal bool, err error)

// BodyFunc delivers one chunk of message body as it's decoded off the wire.
type BodyFunc func(chunk []byte)

// EndFunc signals the message body is complete, carrying any trailers.
type EndFunc func(trailers []Header)

// ErrorFunc reports a parsing problem, including a recoverable one that a
// non-Careful handler keeps parsing past.
type ErrorFunc func(*Error)

// OutputFunc writes framed bytes to the underlying transport.
type OutputFunc func(data []byte)

// Handler is a push-fed HTTP/1.1 message codec. It has no notion of
// request vs. response on its own — the embedding client or server
// connection supplies that via the hook funcs below in place of the
// subclass-overrides-callback-methods style this codec is adapted from.
type Handler struct {
	// Careful, if false, logs recoverable parsing anomalies via
	// OnInputError but keeps parsing instead of aborting.
	Careful bool
	// QuietAfterMessage selects the state handle_input returns to once a
	// message finishes: WAITING (more messages expected, the default) or
	// QUIET (no further input is expected on this connection — the client
	// connection sets this once it knows the connection isn't reusable).
	QuietAfterMessage bool

	OnInputStart StartFunc
	OnInputBody  BodyFunc
	OnInputEnd   EndFunc
	OnInputError ErrorFunc
	Output       OutputFunc

	// InputHeaderLength and InputTransferLength track, respectively, the
	// byte length of the most recently parsed header block and the
	// cumulative body bytes consumed off the wire for the current message,
	// chunk framing included — exposed for diagnostics/logging.
	InputHeaderLength   int
	InputTransferLength int

	inputBuffer   [][]byte
	inputState    inputState
	inputDelimit  Delimiter
	inputBodyLeft int
	outputState   inputState
	outputDelimit Delimiter

	// handleDepth counts re-entrant Handle calls within the current
	// top-level Handle invocation, so a pipelined flood of zero-body
	// messages in one read aborts with KindTooManyMsgs instead of
	// recursing until the goroutine stack overflows.
	handleDepth int
}

// maxHandleDepth bounds how many times Handle may re-enter itself on
// leftover bytes within a single call, so a pipelined flood of zero-body
// messages arriving in one read aborts with KindTooManyMsgs instead of
// recursing until the goroutine stack overflows.
const maxHandleDepth = 1000

func (h *Handler) defaultState() inputState {
	if h.QuietAfterMessage {
		return stateQuiet
	}
	return stateWaiting
}

// Reset returns the handler to its initial input/output state, for reuse
// across messages on a persistent connection.
func (h *Handler) Reset() {
	h.inputBuffer = nil
	h.inputState = h.defaultState()
	h.inputDelimit = delimiterNone
	h.inputBodyLeft = 0
	h.outputState = stateWaiting
	h.outputDelimit = delimiterNone
	h.InputHeaderLength = 0
	h.InputTransferLength = 0
}

// Pending reports whether bytes are sitting in the internal reassembly
// buffer waiting for more input (an incomplete header block or chunk).
func (h *Handler) Pending() bool { return len(h.inputBuffer) > 0 }

// Stash appends in to the internal reassembly buffer without parsing it —
// for a caller that wants to hold wire bytes that arrived with nothing
// attached to consume them yet, then flush them into Handle once something
// is. A subsequent Handle(nil) call drains whatever was stashed.
func (h *Handler) Stash(in []byte) {
	if len(in) == 0 {
		return
	}
	h.inputBuffer = append(h.inputBuffer, in)
}

// InputState reports the handler's current input state, for logging / the
// conn_closed notification path that needs to know what the parser was
// doing when the connection went away.
func (h *Handler) InputState() string {
	switch h.inputState {
	case stateWaiting:
		return "waiting"
	case stateHeadersDone:
		return "headers_done"
	case stateError:
		return "error"
	case stateQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// InputDelimit reports the current input body delimiter.
func (h *Handler) InputDelimit() Delimiter { return h.inputDelimit }

// Handle feeds a chunk of bytes read off the wire into the parser. It is
// the one entry point callers use; re-entry within a single call (header
// block followed immediately by another in the same read, a pipelined
// flood of zero-body messages, ...) is tracked internally and bounded by
// maxHandleDepth.
func (h *Handler) Handle(in []byte) {
	h.handleDepth = 0
	h.handle(in)
}

// recurse re-enters handle for the bytes left over after finishing one
// message, counting re-entries against maxHandleDepth.
func (h *Handler) recurse(in []byte) {
	h.handleDepth++
	if h.handleDepth > maxHandleDepth {
		h.inputState = stateError
		h.inputBuffer = nil
		h.reportError(&Error{Kind: KindTooManyMsgs})
		return
	}
	h.handle(in)
}

func (h *Handler) handle(in []byte) {
	if len(h.inputBuffer) > 0 {
		h.inputBuffer = append(h.inputBuffer, in)
		in = bytes.Join(h.inputBuffer, nil)
		h.inputBuffer = nil
	}
	switch h.inputState {
	case stateWaiting:
		headers, rest, found := splitHeaders(in)
		if found {
			if h.parseHeaders(headers) {
				h.recurse(rest)
			}
		} else {
			h.inputBuffer = append(h.inputBuffer, in)
		}
	case stateQuiet:
		if len(bytes.TrimSpace(in)) > 0 {
			h.reportError(&Error{Kind: KindExtraData, Detail: safeDetail(in)})
		}
	case stateHeadersDone:
		switch h.inputDelimit {
		case DelimiterNoBody:
			h.handleNoBody(in)
		case DelimiterClose:
			h.handleClose(in)
		case DelimiterChunked:
			h.handleChunked(in)
		case DelimiterCounted:
			h.handleCounted(in)
		}
	case stateError:
		// silently ignore further input once we've given up on the stream
	}
}

func (h *Handler) handleNoBody(in []byte) {
	h.inputState = h.defaultState()
	h.notifyEnd(nil)
	h.recurse(in)
}

func (h *Handler) handleClose(in []byte) {
	h.InputTransferLength += len(in)
	if h.OnInputBody != nil {
		h.OnInputBody(in)
	}
}

func (h *Handler) handleCounted(in []byte) {
	if h.inputBodyLeft <= len(in) {
		h.InputTransferLength += h.inputBodyLeft
		if h.OnInputBody != nil {
			h.OnInputBody(in[:h.inputBodyLeft])
		}
		rest := in[h.inputBodyLeft:]
		h.inputState = h.defaultState()
		h.notifyEnd(nil)
		if len(rest) > 0 {
			h.recurse(rest)
		}
	} else {
		if h.OnInputBody != nil {
			h.OnInputBody(in)
		}
		h.InputTransferLength += len(in)
		h.inputBodyLeft -= len(in)
	}
}

func (h *Handler) handleChunked(in []byte) {
	for len(in) > 0 {
		switch {
		case h.inputBodyLeft < 0: // new chunk
			in = h.handleChunkNew(in)
		case h.inputBodyLeft > 0: // mid-chunk
			in = h.handleChunkBody(in)
		default: // done
			h.handleChunkDone(in)
			return
		}
		if in == nil {
			return // waiting for more input
		}
	}
}

func (h *Handler) handleChunkNew(in []byte) []byte {
	idx := bytes.Index(in, []byte("\r\n"))
	if idx == -1 {
		if len(in) > 512 {
			h.reportError(&Error{Kind: KindChunk, Detail: safeDetail(in)})
			return []byte{}
		}
		h.inputBuffer = append(h.inputBuffer, in)
		return nil
	}
	sizeField, rest := in[:idx], in[idx+2:]
	if semi := bytes.IndexByte(sizeField, ';'); semi != -1 {
		sizeField = sizeField[:semi]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeField)), 16, 64)
	if err != nil || size < 0 {
		h.reportError(&Error{Kind: KindChunk, Detail: safeDetail(sizeField)})
		return []byte{}
	}
	h.inputBodyLeft = int(size)
	h.InputTransferLength += len(in) - len(rest)
	return rest
}

func (h *Handler) handleChunkBody(in []byte) []byte {
	got := len(in)
	switch {
	case h.inputBodyLeft+2 < got:
		this := h.inputBodyLeft
		if h.OnInputBody != nil {
			h.OnInputBody(in[:this])
		}
		h.InputTransferLength += this + 2
		h.inputBodyLeft = -1
		return in[this+2:]
	case h.inputBodyLeft+2 == got:
		if h.OnInputBody != nil {
			h.OnInputBody(in[:got-2])
		}
		h.InputTransferLength += h.inputBodyLeft + 2
		h.inputBodyLeft = -1
		return []byte{}
	case h.inputBodyLeft == got:
		h.inputBuffer = append(h.inputBuffer, in)
		return []byte{}
	default:
		if h.OnInputBody != nil {
			h.OnInputBody(in)
		}
		h.InputTransferLength += got
		h.inputBodyLeft -= got
		return []byte{}
	}
}

func (h *Handler) handleChunkDone(in []byte) {
	if len(in) >= 2 && in[0] == '\r' && in[1] == '\n' {
		h.inputState = h.defaultState()
		h.notifyEnd(nil)
		if len(in) > 2 {
			h.recurse(in[2:])
		}
		return
	}
	trailerBlock, rest, found := splitHeaders(in)
	if !found {
		h.inputBuffer = append(h.inputBuffer, in)
		return
	}
	h.inputState = h.defaultState()
	trailers, _, _, _, ok := h.parseFields(splitLines(trailerBlock), false)
	if !ok {
		h.inputState = stateError
		return
	}
	h.notifyEnd(trailers)
	h.recurse(rest)
}

func (h *Handler) notifyEnd(trailers []Header) {
	if h.OnInputEnd != nil {
		h.OnInputEnd(trailers)
	}
}

func (h *Handler) reportError(err *Error) {
	if h.OnInputError != nil {
		h.OnInputError(err)
	}
}

// parseFields parses a block of raw header (or trailer) lines into
// (Header, connTokens, transferCodes, contentLength, ok). gatherConnInfo
// additionally collects Connection/Transfer-Encoding/Content-Length
// values, which only matters for the top header block of a message, not
// trailers.
func (h *Handler) parseFields(lines [][]byte, gatherConnInfo bool) ([]Header, []string, []string, *int, bool) {
	var hdrs []Header
	var connTokens, transferCodes []string
	var contentLength *int

	for _, line := range lines {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if len(hdrs) > 0 {
				last := &hdrs[len(hdrs)-1]
				folded := append(append(append([]byte{}, last.Value...), ' '), bytes.TrimLeft(line, " \t")...)
				last.Value = folded
				continue
			}
			h.reportError(&Error{Kind: KindTopLineSpace, Detail: safeDetail(line)})
			if h.Careful {
				return nil, nil, nil, nil, false
			}
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue // TODO: error on unparseable field?
		}
		name, value := line[:colon], line[colon+1:]
		if len(name) > 0 {
			last := name[len(name)-1]
			if last == ' ' || last == '\t' {
				h.reportError(&Error{Kind: KindHeaderSpace, Detail: safeDetail(name)})
				if h.Careful {
					return nil, nil, nil, nil, false
				}
			}
		}
		hdrs = append(hdrs, Header{Name: name, Value: value})

		if !gatherConnInfo {
			continue
		}
		fname := lowerASCII(string(trimSpace(name)))
		fval := trimSpace(value)
		switch fname {
		case "connection":
			for _, v := range splitComma(fval) {
				connTokens = append(connTokens, lowerASCII(string(trimSpace(v))))
			}
		case "transfer-encoding":
			for _, v := range splitComma(fval) {
				transferCodes = append(transferCodes, lowerASCII(string(trimSpace(v))))
			}
		case "content-length":
			n, err := strconv.Atoi(string(fval))
			if err != nil || n < 0 {
				h.reportError(&Error{Kind: KindMalformedCL, Detail: string(fval)})
				if h.Careful {
					return nil, nil, nil, nil, false
				}
				continue
			}
			if contentLength != nil {
				if *contentLength == n {
					continue // duplicate, non-conflicting
				}
				h.reportError(&Error{Kind: KindDuplicateCL})
				if h.Careful {
					return nil, nil, nil, nil, false
				}
				continue
			}
			contentLength = &n
		}
	}
	return hdrs, connTokens, transferCodes, contentLength, true
}

// parseHeaders parses a complete header block (sans the trailing blank
// line) and, on success, invokes OnInputStart to kick off message
// processing.
func (h *Handler) parseHeaders(in []byte) bool {
	h.InputHeaderLength = len(in)
	lines := splitLines(in)

	var topLine []byte
	for {
		if len(lines) == 0 {
			return true // empty: nothing to parse
		}
		topLine, lines = lines[0], lines[1:]
		if len(bytes.TrimSpace(topLine)) != 0 {
			break
		}
	}

	hdrs, connTokens, transferCodes, contentLength, ok := h.parseFields(lines, true)
	if !ok {
		return false
	}

	if len(transferCodes) > 0 && contentLength != nil {
		contentLength = nil
	}

	if h.OnInputStart == nil {
		return false
	}
	allowsBody, isFinal, err := h.OnInputStart(topLine, hdrs, connTokens, transferCodes, contentLength)
	if err != nil {
		return false
	}

	if !isFinal {
		h.inputState = stateWaiting
	} else {
		h.inputState = stateHeadersDone
	}

	switch {
	case !allowsBody:
		h.inputDelimit = DelimiterNoBody
	case len(transferCodes) > 0:
		if transferCodes[len(transferCodes)-1] == "chunked" {
			h.inputDelimit = DelimiterChunked
			h.inputBodyLeft = -1
		} else {
			h.inputDelimit = DelimiterClose
		}
	case contentLength != nil:
		h.inputDelimit = DelimiterCounted
		h.inputBodyLeft = *contentLength
	default:
		h.inputDelimit = DelimiterClose
	}
	return true
}

func safeDetail(b []byte) string {
	const max = 120
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// splitLines mimics Python bytes.splitlines(): splits on bare "\n",
// stripping a trailing "\r" from each line, and drops a final empty
// element produced by a trailing terminator (but keeps interior empty
// lines, unlike bytes.FieldsFunc).
func splitLines(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte("\n"))
	for i, p := range parts {
		if len(p) > 0 && p[len(p)-1] == '\r' {
			parts[i] = p[:len(p)-1]
		}
	}
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// splitHeaders finds the first header-block terminator (CRLFCRLF, with a
// bare LFLF also accepted by this tolerant scan) in in, returning
// (headers, rest, true) if one was found, or (nil, in, false) if the block
// is still incomplete.
func splitHeaders(in []byte) ([]byte, []byte, bool) {
	pos := 0
	size := len(in)
	for pos <= size {
		nl := bytes.IndexByte(in[pos:], '\n')
		if nl == -1 {
			return nil, in, false
		}
		nl += pos
		back := 0
		if nl > 0 && in[nl-1] == '\r' {
			back++
		}
		next := nl + 1
		if next < size {
			if in[next] == '\r' {
				next++
				back++
			}
			if next < size && in[next] == '\n' {
				return in[:next-back], in[next+1:], true
			}
		}
		pos = next
	}
	return nil, in, false
}
