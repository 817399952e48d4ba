// Package dnsresolve is the one external collaborator the connect
// orchestration in httpclient actually talks to: an async lookup that
// returns a set of candidate addresses for a host, or an opaque error.
// Resolution itself runs on ordinary goroutines — DNS lookups block for
// hundreds of milliseconds on a bad network and have no business running on
// the reactor's own goroutine — and results are handed back across that
// boundary through Reactor.Post.
package dnsresolve

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/idna"
	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
)

// AddressInfo is one candidate address returned by Lookup, mirroring a
// getaddrinfo(3) result record.
type AddressInfo struct {
	Family    int
	SockType  int
	Protocol  int
	CanonName string
	IP        net.IP
	Port      int
}

// Error is a DNS failure. Code is one of the Code* classifiers below, not a
// platform errno.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("dns error %d: %s", e.Code, e.Message) }

// Opaque classification codes. These are not errno values; they exist only
// to let a caller distinguish "definitely doesn't exist" from "transient"
// without the core needing to understand resolver internals.
const (
	CodeUnknown   = -1
	CodeNotFound  = 1
	CodeTimeout   = 2
	CodeTemporary = 3
)

// Callback receives either a non-empty, ordered list of address records or
// a non-nil error — never both, never neither.
type Callback func([]AddressInfo, error)

// Resolver looks up hostnames asynchronously, posting results back onto r.
type Resolver struct {
	reactor *reactor.Reactor
}

// New returns a Resolver that posts results onto r.
func New(r *reactor.Reactor) *Resolver {
	return &Resolver{reactor: r}
}

// Lookup resolves host for connections of the given socket type (generally
// unix.SOCK_STREAM) on port, invoking cb on the reactor goroutine once
// resolution completes or fails.
func (d *Resolver) Lookup(host string, port int, sockType int, cb Callback) {
	go d.resolve(host, port, sockType, cb)
}

func (d *Resolver) resolve(host string, port int, sockType int, cb Callback) {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		ascii = host // best-effort: let the resolver itself reject a bad name
	}

	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip", ascii)
	if err != nil {
		dnsErr := classify(err)
		d.reactor.Post(func() { cb(nil, dnsErr) })
		return
	}

	infos := make([]AddressInfo, 0, len(ips))
	for _, ip := range ips {
		family := unix.AF_INET
		if ip.To4() == nil {
			family = unix.AF_INET6
		}
		infos = append(infos, AddressInfo{
			Family:    family,
			SockType:  sockType,
			Protocol:  unix.IPPROTO_TCP,
			CanonName: ascii,
			IP:        ip,
			Port:      port,
		})
	}
	d.reactor.Post(func() { cb(infos, nil) })
}

func classify(err error) *Error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		code := CodeUnknown
		switch {
		case dnsErr.IsNotFound:
			code = CodeNotFound
		case dnsErr.IsTimeout:
			code = CodeTimeout
		case dnsErr.IsTemporary:
			code = CodeTemporary
		}
		return &Error{Code: code, Message: dnsErr.Error()}
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}
