package httpclient

import (
	"time"

	"github.com/searchktools/reactor-http/reactor"
)

// wireConn is what both transport.Conn and tlsconn.Conn satisfy: a
// push-model byte stream the codec can ride, without this package needing
// to know which one it's talking to.
type wireConn interface {
	On(event string, fn reactor.Listener) reactor.ListenerID
	Once(event string, fn reactor.Listener) reactor.ListenerID
	RemoveListeners(events ...string)
	Write(data []byte)
	Close()
	Pause(paused bool)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
