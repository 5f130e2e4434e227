package server

import (
	"log"
	"os"
	"time"

	"github.com/yourusername/surge/pkg/surge"
	"github.com/yourusername/surge/pkg/surge/flow"
)

// Config holds server configuration. Zero values select the defaults
// documented per field; see DefaultConfig.
type Config struct {
	// Addr is the TCP address to listen on (e.g. ":8080").
	// Default: ":8080"
	Addr string

	// Handler is the application invoked for every exchange.
	// Required.
	Handler Handler

	// Lifespan receives startup/shutdown notifications.
	// Default: NopLifespan
	Lifespan Lifespan

	// Logger receives connection-level protocol errors and lifecycle
	// transitions. Per-request logging is the application's business.
	// Default: log.New(os.Stderr, ...)
	Logger *log.Logger

	// ReadTimeout bounds reading one request head plus body. Zero
	// disables the deadline.
	// Default: 60 seconds
	ReadTimeout time.Duration

	// WriteTimeout bounds each write of response bytes to the socket.
	// Default: 60 seconds
	WriteTimeout time.Duration

	// IdleTimeout bounds the wait for the next request on a keep-alive
	// connection.
	// Default: 120 seconds
	IdleTimeout time.Duration

	// ShutdownGrace bounds the wait for in-flight exchanges during
	// graceful shutdown; connections still open afterwards are
	// force-closed.
	// Default: 30 seconds
	ShutdownGrace time.Duration

	// CycleGrace bounds how long a finished connection waits for an
	// application that ignores its disconnect signal.
	// Default: 5 seconds
	CycleGrace time.Duration

	// HighWatermark / LowWatermark configure outbound backpressure.
	// Producers pause above High and resume at Low; Low must be below
	// High or both fall back to the flow package defaults.
	// Default: 64 KiB / 16 KiB
	HighWatermark int64
	LowWatermark  int64

	// EventPoolSize caps the idle signal events retained for reuse.
	// Default: surge.DefaultEventPoolSize
	EventPoolSize int

	// MaxRequestBodySize caps request bodies. Larger declared bodies are
	// refused with 413; chunked bodies are cut off mid-stream.
	// Default: 10 MB
	MaxRequestBodySize int64

	// MaxRequestsPerConn closes the connection after this many
	// exchanges. 0 means unlimited.
	// Default: 0
	MaxRequestsPerConn int

	// MaxTotalRequests begins a graceful shutdown of the whole server
	// once this many exchanges have completed across all connections.
	// Useful for rolling restarts and leak hunting. 0 means unlimited.
	// Default: 0
	MaxTotalRequests uint64

	// MaxConnections refuses new connections with 503 beyond this count
	// of concurrently active ones. 0 means unlimited.
	// Default: 0
	MaxConnections int

	// ReadBufferSize is the per-connection read buffer.
	// Default: 4096 bytes
	ReadBufferSize int

	// DisableKeepAlive forces Connection: close on every response.
	// Default: false
	DisableKeepAlive bool

	// ServerHeader is the Server response header value.
	// Default: "surge"
	ServerHeader string

	// DisableDateHeader drops the Date response header.
	// Default: false
	DisableDateHeader bool
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		Lifespan:           NopLifespan{},
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownGrace:      30 * time.Second,
		CycleGrace:         5 * time.Second,
		HighWatermark:      flow.DefaultHighWatermark,
		LowWatermark:       flow.DefaultLowWatermark,
		EventPoolSize:      surge.DefaultEventPoolSize,
		MaxRequestBodySize: 10 << 20,
		ReadBufferSize:     4096,
		ServerHeader:       "surge",
	}
}

// withDefaults backfills zero-valued fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Lifespan == nil {
		c.Lifespan = d.Lifespan
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "surge: ", log.LstdFlags)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.CycleGrace == 0 {
		c.CycleGrace = d.CycleGrace
	}
	if c.HighWatermark == 0 {
		c.HighWatermark = d.HighWatermark
	}
	if c.LowWatermark == 0 {
		c.LowWatermark = d.LowWatermark
	}
	if c.EventPoolSize == 0 {
		c.EventPoolSize = d.EventPoolSize
	}
	if c.MaxRequestBodySize == 0 {
		c.MaxRequestBodySize = d.MaxRequestBodySize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ServerHeader == "" {
		c.ServerHeader = d.ServerHeader
	}
	return c
}
