package config

import (
	"flag"
	"time"
)

// Config holds the knobs needed to stand up a Server/Client/Reactor
// straight from command-line flags.
type Config struct {
	Port int
	Env  string

	// Precision is the reactor's poll/timer granularity.
	Precision time.Duration

	IdleTimeout    float64
	ConnectTimeout float64
	ConnectAttempts int
	ReadTimeout    float64
	RetryLimit     int
	RetryDelay     float64
	MaxServerConn  int
	Careful        bool
}

// New loads configuration from flags.
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")

	var precisionMS int
	flag.IntVar(&precisionMS, "precision-ms", 250, "reactor poll/timer precision, in milliseconds")

	flag.Float64Var(&cfg.IdleTimeout, "idle-timeout", 60, "seconds an idle connection is kept before closing")
	flag.Float64Var(&cfg.ConnectTimeout, "connect-timeout", 3, "seconds to wait for a connect attempt")
	flag.IntVar(&cfg.ConnectAttempts, "connect-attempts", 3, "resolved addresses to try before giving up")
	flag.Float64Var(&cfg.ReadTimeout, "read-timeout", 0, "seconds to wait for a response before giving up (0 disables)")
	flag.IntVar(&cfg.RetryLimit, "retry-limit", 2, "times to retry an idempotent request against a fresh connection")
	flag.Float64Var(&cfg.RetryDelay, "retry-delay", 0.5, "seconds to wait between retries")
	flag.IntVar(&cfg.MaxServerConn, "max-server-conn", 6, "maximum concurrent connections per origin")
	flag.BoolVar(&cfg.Careful, "careful", true, "abort on recoverable parsing anomalies instead of tolerating them")

	flag.Parse()

	cfg.Precision = time.Duration(precisionMS) * time.Millisecond
	return cfg
}
