package reactorhttp

import (
	"errors"
	"fmt"
	"net"

	"github.com/kavrenko/reactorhttp/pool"
)

// Error taxonomy from spec §7. Except ErrReadTimeout/ErrWriteTimeout/
// ErrProtocol, which the sweeper and Connection raise directly (see
// pool/errors.go) and are re-exported here so callers never need to
// import pool just to errors.Is against the public taxonomy.
var (
	ErrReadTimeout  = pool.ErrReadTimeout
	ErrWriteTimeout = pool.ErrWriteTimeout
	ErrProtocol     = pool.ErrProtocol

	// ErrMissingTLSContext is returned immediately, before any network
	// I/O, when an HTTPS request is attempted on a Client without a
	// configured TLS context.
	ErrMissingTLSContext = errors.New("reactorhttp: HTTPS request requires a configured TLS context")

	// ErrShuttingDown is returned for any request received after Stop
	// has begun.
	ErrShuttingDown = errors.New("reactorhttp: client is shutting down")

	// ErrInvalidThread mirrors the source's InvalidThread failure: a
	// dispatcher entry point was invoked off the reactor goroutine.
	ErrInvalidThread = errors.New("reactorhttp: not running on the reactor goroutine")

	// ErrNoHost is returned when a request's URL carries no resolvable
	// host, the resolve-error edge case from §4.4.
	ErrNoHost = errors.New("reactorhttp: request URL has no host")
)

// ResolveError wraps a DNS I/O failure or NXDOMAIN-equivalent, per §7.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("reactorhttp: resolve %s: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ConnectError wraps a transport-level dial failure, per §7.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("reactorhttp: connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TLSError wraps a handshake failure. It embeds a *ConnectError so
// errors.As(err, &connectErr) finds it for routing purposes, while
// observers can still tell the two apart with errors.As(err, &tlsErr)
// — per §7's "subclass of ConnectError for the purpose of routing but
// tracked separately by observers".
type TLSError struct {
	*ConnectError
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("reactorhttp: tls handshake %s: %v", e.Address, e.Err)
}

// Unwrap exposes the embedded ConnectError so errors.As(err, &connectErr)
// succeeds for a TLSError, and errors.Is checks against the wrapped
// dial error also continue to work.
func (e *TLSError) Unwrap() error { return e.ConnectError }

// AsConnectAddress extracts the dial address from a ConnectError or
// TLSError, or the empty string if err is neither.
func AsConnectAddress(err error) string {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Address
	}
	var te *TLSError
	if errors.As(err, &te) {
		return te.Address
	}
	return ""
}

// dnsQueryError wraps an unsuccessful (not successful, e.g. NXDOMAIN)
// DNS response, analogous to the source's DnsQueryException.
type dnsQueryError struct {
	host string
	ips  []net.IP
}

func (e *dnsQueryError) Error() string {
	return fmt.Sprintf("reactorhttp: dns query for %s returned no records", e.host)
}
