package reactorhttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TLSWrapper is the §6 TLS wrapper boundary: wrap_client(socket, host,
// port, context, executor) -> socket.
type TLSWrapper interface {
	WrapClient(ctx context.Context, conn net.Conn, host string, port uint16, cfg *tls.Config, timeout time.Duration) (net.Conn, error)
}

type defaultTLSWrapper struct{}

// WrapClient performs the handshake the same way the teacher's
// tlsHandshake helper does: clone-and-stamp SNI, bound by a context
// timeout, closing the raw socket on failure.
func (defaultTLSWrapper) WrapClient(ctx context.Context, conn net.Conn, host string, _ uint16, cfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	if cfg == nil {
		cfg = &tls.Config{ServerName: host}
	} else {
		cfg = cfg.Clone()
		cfg.ServerName = host
	}

	tlsConn := tls.Client(conn, cfg)

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(hctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return tlsConn, nil
}

type keepAliveObserver interface {
	SetKeepAliveConfig(config net.KeepAliveConfig) error
}

// applySocketSettings primes TCP-level keep-alive probing, the same
// way the teacher's directIPDial/syncDNSAndDial do via
// SetKeepAliveConfig, before any application-level traffic flows.
func applySocketSettings(conn net.Conn, s SocketSettings) error {
	if !s.KeepAlive {
		return nil
	}

	c, ok := conn.(keepAliveObserver)
	if !ok {
		return fmt.Errorf("reactorhttp: connection does not support SetKeepAliveConfig: %T", conn)
	}

	return c.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     s.KeepAliveIdle,
		Interval: s.KeepAliveInterval,
		Count:    s.KeepAliveCount,
	})
}
