package httpmsg

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ParsedURI is the result of parsing a client request target: the origin
// (scheme, host, port) to connect to, plus the authority as given and the
// request-target to actually send on the wire.
type ParsedURI struct {
	Origin     Origin
	Authority  string
	ReqTarget  string
}

// ParseURI splits uri into an Origin plus the authority and request-target
// a client exchange needs, rejecting anything that isn't a well-formed
// absolute http(s) URL.
func ParseURI(uri string) (*ParsedURI, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &Error{Kind: KindURL, Detail: err.Error()}
	}

	scheme := strings.ToLower(u.Scheme)
	var defaultPort int
	switch scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return nil, &Error{Kind: KindURL, Detail: fmt.Sprintf("unsupported URL scheme %q", scheme)}
	}

	authority := u.Host
	hostname := u.Hostname()
	ipv6Literal := strings.Contains(authority, "[")

	port := defaultPort
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, &Error{Kind: KindURL, Detail: fmt.Sprintf("non-integer port %q in URL", portStr)}
		}
		if p < 1 || p > 65535 {
			return nil, &Error{Kind: KindURL, Detail: fmt.Sprintf("URL port %d out of range", p)}
		}
		port = p
	}

	host, err := validateHost(hostname, ipv6Literal)
	if err != nil {
		return nil, err
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	reqTarget := path
	if u.RawQuery != "" {
		reqTarget += "?" + u.RawQuery
	}

	return &ParsedURI{
		Origin:    Origin{Scheme: scheme, Host: host, Port: port},
		Authority: authority,
		ReqTarget: reqTarget,
	}, nil
}

func validateHost(host string, ipv6Literal bool) (string, error) {
	if ipv6Literal {
		for _, c := range host {
			if !isHex(c) && c != ':' {
				return "", &Error{Kind: KindURL, Detail: "URL IPv6 literal has disallowed character"}
			}
		}
		return host, nil
	}

	for _, c := range host {
		if !isASCIILetter(c) && !isDigit(c) && c != '.' && c != '-' {
			return "", &Error{Kind: KindURL, Detail: "URL hostname has disallowed character"}
		}
	}
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if len(l) == 0 {
			return "", &Error{Kind: KindURL, Detail: "URL hostname has empty label"}
		}
		if len(l) > 63 {
			return "", &Error{Kind: KindURL, Detail: "URL hostname label greater than 63 characters"}
		}
	}
	// A label beginning with a digit is technically ambiguous with an IPv4
	// literal, but this is left unvalidated deliberately — it's the
	// caller's application-level URL policy to tighten, not the codec's.
	if len(host) > 255 {
		return "", &Error{Kind: KindURL, Detail: "URL hostname greater than 255 characters"}
	}
	return host, nil
}

// NormalizeHost converts an internationalized hostname to its ASCII
// (punycode) form for use in DNS lookups and SNI, leaving an already-ASCII
// host untouched.
func NormalizeHost(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

func isASCIILetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
