package httpclient

import (
	"crypto/tls"
	"errors"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/dnsresolve"
	"github.com/searchktools/reactor-http/httpmsg"
	"github.com/searchktools/reactor-http/tlsconn"
	"github.com/searchktools/reactor-http/transport"
)

// initiateConnection resolves origin's host, then dials each candidate
// address in turn (cycling modulo the result count) until one connects or
// client.ConnectAttempts is exhausted, handing a fresh *Connection to
// onConnect on success.
func initiateConnection(client *Client, origin httpmsg.Origin, onConnect connectCallback, onError connectErrorCallback) {
	attempts := 0
	var dnsResults []dnsresolve.AddressInfo
	var connectInternal func()
	var handleConnectErrorCB func(kind, code, detail string)

	handleConnectSuccess := func(wire wireConn) {
		client.connCounts[origin]++
		onConnect(newConnection(client, origin, wire))
	}

	connectInternal = func() {
		result := dnsResults[attempts%len(dnsResults)]
		attempts++
		switch origin.Scheme {
		case "https":
			tlsClient := tlsconn.NewClient(client.Reactor, &tls.Config{})
			tlsClient.IPCheck = client.CheckIP
			tlsClient.Once("connect", func(args ...interface{}) {
				handleConnectSuccess(args[0].(*tlsconn.Conn))
			})
			tlsClient.Once("connect_error", func(args ...interface{}) {
				ce := args[0].(*transport.ConnectError)
				handleConnectErrorCB(string(ce.Kind), "0", ce.Err.Error())
			})
			tlsClient.Connect(result.IP, result.Port, origin.Host, secondsToDuration(client.ConnectTimeout))
		default: // "http"
			tcpClient := transport.NewClient(client.Reactor)
			tcpClient.IPCheck = client.CheckIP
			tcpClient.Once("connect", func(args ...interface{}) {
				handleConnectSuccess(args[0].(*transport.Conn))
			})
			tcpClient.Once("connect_error", func(args ...interface{}) {
				ce := args[0].(*transport.ConnectError)
				handleConnectErrorCB(string(ce.Kind), "0", ce.Err.Error())
			})
			tcpClient.Connect(result.IP, result.Port, secondsToDuration(client.ConnectTimeout))
		}
	}

	handleConnectErrorCB = func(kind, code, detail string) {
		if kind == string(transport.ConnectErrAccess) {
			onError(kind, code, detail)
			return
		}
		if attempts >= client.ConnectAttempts {
			onError(string(transport.ConnectErrRetry), strconv.Itoa(attempts), "too many connection attempts")
			return
		}
		client.Reactor.Schedule(0, connectInternal)
	}

	handleDNS := func(results []dnsresolve.AddressInfo, err error) {
		if err != nil {
			var dnsErr *dnsresolve.Error
			code := "-1"
			detail := err.Error()
			if errors.As(err, &dnsErr) {
				code = strconv.Itoa(dnsErr.Code)
				detail = dnsErr.Message
			}
			onError(string(transport.ConnectErrDNS), code, detail)
			return
		}
		dnsResults = results
		connectInternal()
	}

	client.Resolver.Lookup(httpmsg.NormalizeHost(origin.Host), origin.Port, unix.SOCK_STREAM, handleDNS)
}
