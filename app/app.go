// Package app wires a config.Config into a running reactor.Reactor and
// httpserver.Server.
package app

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/reactor-http/config"
	"github.com/searchktools/reactor-http/httpserver"
	"github.com/searchktools/reactor-http/reactor"
)

// App is the application instance binding one Reactor to one HTTP server.
type App struct {
	cfg     *config.Config
	Reactor *reactor.Reactor
	Server  *httpserver.Server
}

// New creates an application instance from cfg, constructing its own
// Reactor and Server.
func New(cfg *config.Config) (*App, error) {
	r, err := reactor.New(cfg.Precision)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	srv := httpserver.New(r)
	srv.IdleTimeout = cfg.IdleTimeout
	srv.Careful = cfg.Careful

	return &App{cfg: cfg, Reactor: r, Server: srv}, nil
}

// Run starts listening on cfg.Port and blocks in the reactor loop until a
// termination signal arrives.
func (a *App) Run() error {
	if err := a.Server.Listen(net.IPv4zero, a.cfg.Port, 128); err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	go a.awaitSignal()

	log.Printf("server listening on port %d [%s]", a.cfg.Port, a.cfg.Env)
	a.Reactor.Run()
	return nil
}

// awaitSignal runs on its own goroutine; it never touches the Reactor
// directly, since only the goroutine running Reactor.Run may do that —
// it hands the shutdown off via Post instead.
func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("signal received: %v, shutting down", sig)
	a.Reactor.Post(func() {
		a.Server.Shutdown()
		a.Reactor.Stop()
	})
}
