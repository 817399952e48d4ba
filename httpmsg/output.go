package httpmsg

import (
	"bytes"
	"strconv"
)

// OutputStart writes a message's start line and headers and records the
// delimiter that OutputBody/OutputEnd will use to frame the body.
func (h *Handler) OutputStart(topLine []byte, hdrs []Header, delimit Delimiter) {
	h.outputDelimit = delimit
	var buf bytes.Buffer
	buf.Write(topLine)
	for _, hd := range hdrs {
		buf.Write(LineSep)
		buf.Write(bytes.TrimSpace(hd.Name))
		buf.WriteString(": ")
		buf.Write(hd.Value)
	}
	buf.Write(LineSep)
	buf.Write(LineSep)
	h.Output(buf.Bytes())
	h.outputState = stateHeadersDone
}

// OutputBody writes one body chunk, applying chunked framing if that's the
// negotiated output delimiter. A no-op before OutputStart or once no
// delimiter is set (e.g. after an error).
func (h *Handler) OutputBody(chunk []byte) {
	if len(chunk) == 0 || h.outputDelimit == delimiterNone {
		return
	}
	if h.outputDelimit == DelimiterChunked {
		var buf bytes.Buffer
		buf.WriteString(strconv.FormatInt(int64(len(chunk)), 16))
		buf.Write(LineSep)
		buf.Write(chunk)
		buf.Write(LineSep)
		h.Output(buf.Bytes())
		return
	}
	h.Output(chunk)
}

// OutputEnd finishes a message (writing the terminating chunk plus
// trailers, if chunked). It returns true if the connection should be
// closed after this message — true for a close-delimited body, or when no
// delimiter was ever established (an error occurred before framing was
// decided).
func (h *Handler) OutputEnd(trailers []Header) bool {
	switch h.outputDelimit {
	case DelimiterNoBody:
		// no body was ever sent.
	case DelimiterChunked:
		var buf bytes.Buffer
		buf.WriteString("0")
		buf.Write(LineSep)
		for _, t := range trailers {
			buf.Write(bytes.TrimSpace(t.Name))
			buf.WriteString(": ")
			buf.Write(t.Value)
			buf.Write(LineSep)
		}
		buf.Write(LineSep)
		h.Output(buf.Bytes())
	case DelimiterCounted:
		// TODO: double-check the length actually sent matches.
	case DelimiterClose:
		return true
	case delimiterNone:
		return true
	}
	h.outputState = stateWaiting
	return false
}
