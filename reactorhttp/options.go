package reactorhttp

import (
	"crypto/tls"
	"math"
	"net"
	"time"

	"github.com/kavrenko/reactorhttp/inspector"
	"github.com/kavrenko/reactorhttp/resolver"
)

// SocketSettings mirrors §6's opaque TCP parameters, the subset this
// module actually applies to a dialed *net.TCPConn.
type SocketSettings struct {
	KeepAlive         bool
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
}

// DefaultSocketSettings matches the keep-alive probe values the
// teacher's directIPDial/syncDNSAndDial hard-code.
func DefaultSocketSettings() SocketSettings {
	return SocketSettings{
		KeepAlive:         true,
		KeepAliveIdle:     30 * time.Second,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveCount:    3,
	}
}

// Config holds every knob from spec §6. DefaultConfig, which New starts
// from, holds the documented default for every field; the zero value
// does not (it has no shutdown timeout, body size, or socket settings).
type Config struct {
	ConnectTimeout           time.Duration // 0 = infinite
	ReadWriteTimeout         time.Duration // 0 = infinite
	ShutdownReadWriteTimeout time.Duration // default 3s
	KeepAliveTimeout         time.Duration // 0 = disabled
	MaxKeepAliveRequests     int           // 0 = unlimited
	MaxBodySize              int           // 0 = math.MaxInt32

	// MaxConnectionsPerPeer bounds the open connections (busy or idle)
	// to a single resolved peer via a semaphore.Weighted: a dial takes a
	// slot, which is released when that connection closes; leasing an
	// idle connection takes none. This completes the
	// teacher's own "acquire a semaphore slot for max connections per
	// host tracker" TODO. 0 = unlimited, the spec.md default.
	MaxConnectionsPerPeer int64

	SocketSettings SocketSettings

	TLSConfig *tls.Config

	Resolver  resolver.Resolver
	Dialer    Dialer
	Inspector inspector.Inspector
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownReadWriteTimeout: 3 * time.Second,
		MaxBodySize:              math.MaxInt32,
		SocketSettings:           DefaultSocketSettings(),
		Inspector:                inspector.NoOp{},
	}
}

// Option mutates a Config; the functional-options pattern the teacher
// uses via its With* builder methods (AsyncHttpClient.withKeepAliveTimeout,
// withSocketSettings, ...).
type Option func(*Config)

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

func WithReadWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadWriteTimeout = d }
}

func WithShutdownReadWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownReadWriteTimeout = d }
}

func WithKeepAliveTimeout(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveTimeout = d }
}

// WithNoKeepAlive matches the teacher's withNoKeepAlive shortcut.
func WithNoKeepAlive() Option {
	return WithKeepAliveTimeout(0)
}

func WithMaxKeepAliveRequests(n int) Option {
	return func(c *Config) { c.MaxKeepAliveRequests = n }
}

func WithMaxBodySize(n int) Option {
	return func(c *Config) {
		if n == 0 {
			n = math.MaxInt32
		}
		c.MaxBodySize = n
	}
}

func WithMaxConnectionsPerPeer(n int64) Option {
	return func(c *Config) { c.MaxConnectionsPerPeer = n }
}

func WithSocketSettings(s SocketSettings) Option {
	return func(c *Config) { c.SocketSettings = s }
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = cfg }
}

func WithResolver(r resolver.Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

func WithInspector(i inspector.Inspector) Option {
	return func(c *Config) { c.Inspector = i }
}

// Dialer is the §6 socket factory boundary.
type Dialer interface {
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}

type netDialer struct{}

func (netDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.Dial(network, address)
}
