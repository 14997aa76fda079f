package reactorhttp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kavrenko/reactorhttp/pool"
	"github.com/kavrenko/reactorhttp/xstrings"
)

const (
	maxHostnameLength = 253
	schemeHTTP        = "http"
	schemeHTTPS       = "https"
)

// extractHostPort mirrors the teacher's GetOrCreateConnection host/port
// extraction from xhttp/transport.go: an explicit port in the URL wins,
// otherwise the scheme supplies the default (80/443).
func extractHostPort(u *url.URL) (host string, port uint16, err error) {
	host = u.Hostname()
	if host == "" {
		return "", 0, ErrNoHost
	}
	if len(host) > maxHostnameLength {
		return "", 0, fmt.Errorf("reactorhttp: hostname exceeds %d characters as per RFC 1035/1123", maxHostnameLength)
	}

	portStr := u.Port()
	if portStr == "" {
		if xstrings.EqualsIgnoreCaseASCII(u.Scheme, schemeHTTPS) {
			return host, 443, nil
		}
		if xstrings.EqualsIgnoreCaseASCII(u.Scheme, schemeHTTP) {
			return host, 80, nil
		}
		return "", 0, fmt.Errorf("reactorhttp: unsupported scheme %q in request URL", u.Scheme)
	}

	p, perr := strconv.ParseUint(portStr, 10, 16)
	if perr != nil {
		return "", 0, fmt.Errorf("reactorhttp: invalid port %q in request URL: %w", portStr, perr)
	}
	return host, uint16(p), nil
}

// nextRoundRobinIndex implements §4.4 step 5: idx = (cursor++ &
// INT32_MAX) % n — a post-increment, so the first call must observe
// cursor's value before this call incremented it. AddUint32 returns
// the value after the add, so subtracting 1 (itself wrapping correctly
// mod 2^32) recovers the pre-increment value without a second atomic
// op. The mask keeps the index non-negative across the uint32 cursor's
// overflow, per Design Notes §9.
func (cl *Client) nextRoundRobinIndex(n int) int {
	c := atomic.AddUint32(&cl.cursor, 1) - 1
	return int((c & math.MaxInt32) % uint32(n))
}

// doSend implements §4.4 steps 5-9: round-robin select an address,
// lease-or-dial, send, and wire the Inspector hooks.
func (cl *Client) doSend(ctx context.Context, requestID string, req *http.Request, host string, port uint16, ips []net.IP) (*http.Response, error) {
	idx := cl.nextRoundRobinIndex(len(ips))
	peer := net.JoinHostPort(ips[idx].String(), strconv.Itoa(int(port)))

	var conn *pool.Connection
	cl.onReactor(func() {
		conn, _ = cl.registry.TryTakeIdle(peer)
	})

	if conn != nil {
		if conn.IsActive() {
			slog.LogAttrs(ctx, slog.LevelDebug,
				"reusing idle connection",
				slog.String("peer", peer),
				slog.String("conn_id", conn.ID.String()),
			)
			return cl.sendOn(ctx, conn, req)
		}
		// stale idle connection the sweeper hasn't caught yet; the peer
		// closed it while it sat idle. Not a response failure (§7:
		// was_idle == true), and the Dispatcher does not retry it.
		slog.LogAttrs(ctx, slog.LevelDebug,
			"idle connection found dead, evicting",
			slog.String("peer", peer),
			slog.String("conn_id", conn.ID.String()),
		)
		cl.cfg.Inspector.OnHTTPError(conn.ID.String(), true, pool.ErrIdleExpired)
		cl.onReactor(func() {
			cl.registry.Evict(conn, pool.ErrIdleExpired)
		})
		conn = nil
	}

	return cl.dialAndSend(ctx, requestID, req, host, port, peer)
}

// dialAndSend implements §4.4 steps 7-9: dial on a pool miss, wrap in
// TLS when required, register the new Connection as Busy, then send.
func (cl *Client) dialAndSend(ctx context.Context, requestID string, req *http.Request, host string, port uint16, peer string) (*http.Response, error) {
	https := xstrings.EqualsIgnoreCaseASCII(req.URL.Scheme, schemeHTTPS)
	if https && cl.cfg.TLSConfig == nil {
		// pre-network failure per §4.4 step 8: no dial attempt, no
		// on_connect_error emission.
		return nil, ErrMissingTLSContext
	}

	sem := cl.peerSemaphore(peer)
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	releaseSem := sync.OnceFunc(func() {
		if sem != nil {
			sem.Release(1)
		}
	})

	rawConn, err := cl.cfg.Dialer.DialTimeout("tcp", peer, cl.cfg.ConnectTimeout)
	if err != nil {
		releaseSem()
		cerr := &ConnectError{Address: peer, Err: err}
		slog.LogAttrs(ctx, slog.LevelError,
			"dial failed",
			slog.String("peer", peer),
			slog.String("error", err.Error()),
		)
		cl.cfg.Inspector.OnConnectError(requestID, peer, cerr)
		return nil, cerr
	}

	if err := applySocketSettings(rawConn, cl.cfg.SocketSettings); err != nil {
		_ = rawConn.Close()
		releaseSem()
		cerr := &ConnectError{Address: peer, Err: err}
		cl.cfg.Inspector.OnConnectError(requestID, peer, cerr)
		return nil, cerr
	}

	socket := net.Conn(rawConn)
	if https {
		wrapped, err := cl.tlsWrapper.WrapClient(ctx, socket, host, port, cl.cfg.TLSConfig, 10*time.Second)
		if err != nil {
			releaseSem()
			terr := &TLSError{&ConnectError{Address: peer, Err: err}}
			cl.cfg.Inspector.OnConnectError(requestID, peer, terr)
			return nil, terr
		}
		socket = wrapped
	}

	id := uuid.New()
	onClosed := func(c *pool.Connection, reason error) {
		releaseSem()
		cl.onConnectionClosed(c, reason)
	}
	conn := pool.NewConnection(id, peer, socket, cl.codec, cl.clk.Now().UnixMilli(), cl.cfg.MaxKeepAliveRequests, onClosed)

	cl.onReactor(func() {
		cl.registry.RegisterNewBusy(conn, cl.sweeper.EnsureScheduled)
	})

	cl.cfg.Inspector.OnConnect(requestID, peer)

	return cl.sendOn(ctx, conn, req)
}

// sendOn implements §4.1's send completion contract: on success the
// connection either returns to Idle (keep-alive) or is closed, and the
// Inspector is told which.
func (cl *Client) sendOn(_ context.Context, conn *pool.Connection, req *http.Request) (*http.Response, error) {
	keepAliveMillis := int(cl.cfg.KeepAliveTimeout.Milliseconds())

	resp, eligible, err := conn.Send(req, keepAliveMillis, cl.cfg.MaxBodySize, cl.clk.Now().UnixMilli())
	if err != nil {
		const wasIdle = false
		cl.cfg.Inspector.OnHTTPError(conn.ID.String(), wasIdle, err)
		cl.onReactor(func() {
			cl.registry.Evict(conn, err)
		})
		return nil, err
	}

	cl.cfg.Inspector.OnHTTPResponse(conn.ID.String(), resp.StatusCode)

	if eligible {
		cl.onReactor(func() {
			if rerr := cl.registry.ReturnToIdle(conn, cl.clk.Now().UnixMilli(), cl.sweeper.EnsureScheduled); rerr != nil {
				cl.registry.Evict(conn, rerr)
			}
		})
	} else {
		cl.onReactor(func() {
			cl.registry.Evict(conn, nil)
		})
	}

	return resp, nil
}

// onConnectionClosed is the Connection -> Lifecycle Controller hook
// from §4.5: every Connection calls this exactly once on transition to
// Closed, regardless of cause. Every call site that can reach
// Connection.Close routes through onReactor (directly, or via the
// Sweeper's dispatch), so this always already runs on the reactor
// goroutine — it must not call onReactor itself, or a Close triggered
// from within an onReactor closure would deadlock waiting on itself.
func (cl *Client) onConnectionClosed(_ *pool.Connection, _ error) {
	if cl.registry.TotalConnections() == 0 {
		cl.sweeper.Stop()
	}
	cl.maybeCompleteShutdown()
}
