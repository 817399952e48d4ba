package transport

import (
	"log"
	"net"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactor-http/reactor"
)

// acceptErrs are errno values from accept(2) that mean "nothing to do right
// now", to be swallowed rather than logged.
var acceptErrs = map[error]bool{
	unix.EAGAIN:      true,
	unix.ECONNABORTED: true,
}

// Server listens on ip:port and accepts incoming connections, handing each
// one to the reactor as a *Conn.
//
// Emits: "accept" (*Conn). Listen reports its failures as a return value.
type Server struct {
	*reactor.EventSource

	reactor *reactor.Reactor
	fd      int

	IP   net.IP
	Port int
}

// NewServer returns a Server bound to r, not yet listening.
func NewServer(r *reactor.Reactor) *Server {
	return &Server{EventSource: reactor.NewEventSource(r), reactor: r, fd: -1}
}

// Listen binds and starts listening on ip:port with the given accept
// backlog. An ip of nil means "any IPv4 address" (0.0.0.0).
func (s *Server) Listen(ip net.IP, port int, backlog int) error {
	if ip == nil {
		ip = net.IPv4zero
	}
	sa, family, err := toSockaddr(ip, port)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	s.fd = fd
	s.IP = ip
	s.Port = port
	if port == 0 {
		if bound, _ := unix.Getsockname(fd); bound != nil {
			if _, p := sockaddrToIPPort(bound); p != 0 {
				s.Port = p
			}
		}
	}
	s.RegisterFD(fd, "fd_readable")
	s.On("fd_readable", func(...interface{}) { s.handleAccept() })
	return nil
}

func (s *Server) handleAccept() {
	for {
		nfd, sa, err := unix.Accept(s.fd)
		if err != nil {
			if acceptErrs[err] {
				return
			}
			log.Printf("transport: accept error: %v", err)
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		ip, port := sockaddrToIPPort(sa)
		conn := NewConn(s.reactor, nfd, ip, port)
		s.Emit("accept", conn)
	}
}

// Close stops listening and releases the listening socket. Connections
// already accepted are unaffected.
func (s *Server) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.UnregisterFD()
	s.fd = -1
	return unix.Close(fd)
}

func sockaddrToIPPort(sa unix.Sockaddr) (net.IP, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return ip, a.Port
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return ip, a.Port
	default:
		return nil, 0
	}
}
