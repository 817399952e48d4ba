package httpmsg

import "fmt"

// Kind identifies the specific parsing or protocol problem an Error
// represents: a single concrete type plus an enum in place of a
// subclass-per-error-kind hierarchy, since Go has no cheap equivalent of
// that exception-class-as-taxonomy idiom.
type Kind int

const (
	KindChunk Kind = iota
	KindDuplicateCL
	KindMalformedCL
	KindExtraData
	KindStartLine
	KindHTTPVersion
	KindReadTimeout
	KindTransferCode
	KindHeaderSpace
	KindTopLineSpace
	KindTooManyMsgs
	KindURL
	KindLengthRequired
	KindConnect
	KindHostRequired
)

var kindNames = map[Kind]string{
	KindChunk:          "chunk encoding error",
	KindDuplicateCL:    "duplicate Content-Length header",
	KindMalformedCL:    "malformed Content-Length header",
	KindExtraData:      "extra data after message end",
	KindStartLine:      "unparseable start line",
	KindHTTPVersion:    "unrecognised HTTP version",
	KindReadTimeout:    "read timeout",
	KindTransferCode:   "unknown transfer coding",
	KindHeaderSpace:    "whitespace before header field-name colon",
	KindTopLineSpace:   "whitespace between start line and headers",
	KindTooManyMsgs:    "too many messages to parse",
	KindURL:            "unsupported or invalid URI",
	KindLengthRequired: "Content-Length required",
	KindConnect:        "connection error",
	KindHostRequired:   "Host header required",
}

// serverStatus gives the status line a server should send in response to
// this Kind, where one is defined.
var serverStatus = map[Kind][2]string{
	KindDuplicateCL:    {"400", "Bad Request"},
	KindMalformedCL:    {"400", "Bad Request"},
	KindHTTPVersion:    {"505", "HTTP Version Not Supported"},
	KindTransferCode:   {"501", "Not Implemented"},
	KindHeaderSpace:    {"400", "Bad Request"},
	KindTopLineSpace:   {"400", "Bad Request"},
	KindTooManyMsgs:    {"400", "Bad Request"},
	KindURL:            {"400", "Bad Request"},
	KindLengthRequired: {"411", "Length Required"},
	KindConnect:        {"504", "Gateway Timeout"},
}

// clientRecoverable lists Kinds after which the client-side connection may
// still be reused; everything else forces the connection to be torn down.
var clientRecoverable = map[Kind]bool{
	KindDuplicateCL:  true,
	KindHeaderSpace:  true,
	KindTopLineSpace: true,
	KindLengthRequired: true,
}

// serverRecoverable lists Kinds after which the server-side connection may
// still be reused.
var serverRecoverable = map[Kind]bool{
	KindHostRequired: true,
}

// Error is the single concrete parsing/protocol error type the codec
// raises. Detail carries the offending input fragment, where useful for
// diagnostics.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return kindNames[e.Kind]
	}
	return fmt.Sprintf("%s: %s", kindNames[e.Kind], e.Detail)
}

// ServerStatus returns the status line a server should emit for this
// error, and whether one is defined at all.
func (e *Error) ServerStatus() (status [2]string, ok bool) {
	status, ok = serverStatus[e.Kind]
	return
}

// ClientRecoverable reports whether a client connection may be reused
// after this error.
func (e *Error) ClientRecoverable() bool { return clientRecoverable[e.Kind] }

// ServerRecoverable reports whether a server connection may be reused
// after this error.
func (e *Error) ServerRecoverable() bool { return serverRecoverable[e.Kind] }
