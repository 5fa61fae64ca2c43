// Package config holds the context-level defaults (loadable from COURIER_*
// environment variables) and the per-socket options record.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/Courier/internal/msg"
)

// Config holds context-wide defaults.
type Config struct {
	// IOThreads is the size of the I/O reactor pool.
	IOThreads int `envconfig:"COURIER_IO_THREADS" default:"1"`
	// SndHWM and RcvHWM seed new sockets' water marks.
	SndHWM int `envconfig:"COURIER_SNDHWM" default:"1000"`
	RcvHWM int `envconfig:"COURIER_RCVHWM" default:"1000"`
	// InBatchSize and OutBatchSize bound one read/write burst per engine.
	InBatchSize  int `envconfig:"COURIER_IN_BATCH" default:"8192"`
	OutBatchSize int `envconfig:"COURIER_OUT_BATCH" default:"8192"`
	// MaxMsgSize rejects oversized peers; -1 disables the check.
	MaxMsgSize int64 `envconfig:"COURIER_MAX_MSG_SIZE" default:"-1"`
	// LogLevel and LogDev configure the shared logger.
	LogLevel string `envconfig:"COURIER_LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"COURIER_LOG_DEV" default:"false"`
	// Metrics is loaded from the environment but not consulted; the
	// Prometheus collectors in internal/monitoring are always registered.
	Metrics bool `envconfig:"COURIER_METRICS" default:"true"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads from the environment or falls back to defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		IOThreads:    1,
		SndHWM:       1000,
		RcvHWM:       1000,
		InBatchSize:  8192,
		OutBatchSize: 8192,
		MaxMsgSize:   -1,
		LogLevel:     "info",
		Metrics:      true,
	}
}

// Options is the per-socket options record. A copy travels with each session
// and engine so option changes never race active connections.
type Options struct {
	SndHWM int
	RcvHWM int

	// Linger bounds how long close keeps draining; negative means drain
	// fully, zero drops undelivered messages.
	Linger time.Duration

	// SndTimeo and RcvTimeo: negative blocks, zero polls.
	SndTimeo time.Duration
	RcvTimeo time.Duration

	ReconnectIvl    time.Duration
	ReconnectIvlMax time.Duration
	ConnectTimeout  time.Duration
	HandshakeIvl    time.Duration

	// ReconnectStopConnRefused gives up instead of retrying when the peer
	// actively refuses.
	ReconnectStopConnRefused bool

	MaxMsgSize   int64
	InBatchSize  int
	OutBatchSize int
	ZeroCopy     bool

	// Allocator supplies reception buffers; nil uses the runtime heap. A
	// pooling allocator recycles arena buffers under steady message rates.
	Allocator msg.Allocator

	// Conflate keeps only the most recent inbound message per pipe.
	Conflate bool

	// XPubNoDrop blocks instead of dropping on PUB egress overflow.
	XPubNoDrop bool
	// OnlyFirstSubscribe restricts subscription scanning to first frames.
	OnlyFirstSubscribe bool
	// XSubVerboseUnsubscribe forwards every unsubscribe, matched or not.
	XSubVerboseUnsubscribe bool

	// ReqCorrelate tags requests with ids; ReqRelaxed allows re-sending
	// without awaiting a reply.
	ReqCorrelate bool
	ReqRelaxed   bool

	// GreedyClub keeps filling datagram chunks while the session has more
	// messages.
	GreedyClub bool
}

// OptionsFrom seeds a socket options record from context defaults.
func OptionsFrom(cfg *Config) Options {
	return Options{
		SndHWM:       cfg.SndHWM,
		RcvHWM:       cfg.RcvHWM,
		Linger:       -1,
		SndTimeo:     -1,
		RcvTimeo:     -1,
		ReconnectIvl: 100 * time.Millisecond,
		HandshakeIvl: 30 * time.Second,
		MaxMsgSize:   cfg.MaxMsgSize,
		InBatchSize:  cfg.InBatchSize,
		OutBatchSize: cfg.OutBatchSize,
		ZeroCopy:     true,
	}
}
