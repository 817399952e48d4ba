/*
Package reactorhttp is an event-driven I/O library for building HTTP/1.1
intermediaries in Go: clients, servers, and proxies, all sharing one
single-threaded, readiness-based event loop and one push-fed HTTP/1.1
message codec.

Plain TCP connections get no goroutine of their own. One reactor.Reactor owns a
readiness-based poll loop (epoll on Linux, kqueue on BSD/Darwin, poll
elsewhere) plus a sorted timer queue, and every connection, client
exchange, and server exchange is driven forward by events delivered on
that single goroutine. Background work that genuinely can't be done
non-blocking — DNS resolution, and a TLS connection's handshake and record
I/O — runs on goroutines of its own and hands its results back across the
boundary via Reactor.Post.

Quick Start

Client side:

	r, _ := reactor.New(0)
	client := httpclient.New(r)
	ex := client.Exchange()
	ex.On("response_start", func(args ...interface{}) {
	    log.Println("status:", args[0])
	})
	ex.On("response_done", func(...interface{}) { r.Stop() })
	ex.RequestStart("GET", "http://example.com/", nil)
	ex.RequestDone(nil)
	r.Run()

Server side:

	cfg := config.New()
	application, _ := app.New(cfg)
	application.Server.On("exchange", func(args ...interface{}) {
	    ex := args[0].(*httpserver.Exchange)
	    ex.On("request_start", func(...interface{}) {
	        ex.ResponseStart("200", "OK", nil)
	        ex.ResponseBody([]byte("hello\n"))
	        ex.ResponseDone(nil)
	    })
	})
	application.Run()

Modules

The library is organized into several packages:

  - reactor: EventEmitter, Reactor (the event loop), EventSource, ScheduledEvent
  - poller: epoll/kqueue/poll backends behind one Poller interface
  - transport: non-blocking TCP connection, client, and server
  - tlsconn: a TLS handshake/byte-stream wrapper over transport.Conn
  - httpmsg: the push-fed HTTP/1.1 message codec, error taxonomy, URI parsing
  - httpclient: a pooling HTTP/1.1 client (connect orchestration, retry, reuse)
  - httpserver: an HTTP/1.1 server built on the same codec and reactor
  - dnsresolve: the async DNS lookup collaborator the client's connect path uses
  - config: flag-based configuration
  - app: wires a config.Config into a running Reactor + httpserver.Server

Non-goals

HTTP/2 and HTTP/3, pipelined server responses reordered out of request
order, multi-threaded shared-socket acceptance, a TLS server, and
persistence of pool state across process restarts are all out of scope.
*/
package reactorhttp
