// Package reactorhttp implements the Dispatcher and Lifecycle Controller
// of §4.4/§4.5: the request entry point that resolves DNS, leases or
// dials a connection, and decides recycle vs retire, plus start/stop
// drain semantics. Pool mutation, the state every public entry point
// touches, is confined to a single long-lived goroutine — the Go
// realization of the spec's single-reactor-thread model noted in
// SPEC_FULL.md's Open Questions.
package reactorhttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kavrenko/reactorhttp/clock"
	"github.com/kavrenko/reactorhttp/inspector"
	"github.com/kavrenko/reactorhttp/pool"
	"github.com/kavrenko/reactorhttp/resolver"
	"github.com/kavrenko/reactorhttp/wire"
	"github.com/kavrenko/reactorhttp/xsync"
)

// Client is the Lifecycle Controller plus Dispatcher of §4.4/§4.5.
type Client struct {
	cfg        Config
	clk        clock.Clock
	codec      wire.Codec
	tlsWrapper TLSWrapper

	registry *pool.Registry
	sweeper  *pool.Sweeper

	cursor uint32

	peerSema xsync.Map[string, *semaphore.Weighted]

	mailbox chan func()
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	started   int32

	shutdownCompleteOnce sync.Once
	shutdownDone         chan struct{}
}

// New builds a Client from Options. It does not start the reactor
// goroutine; call Start for that.
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.NewCachingResolver(nil, 130*time.Second, 15*time.Second)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = netDialer{}
	}
	if cfg.Inspector == nil {
		cfg.Inspector = inspector.NoOp{}
	}

	clk := clock.New()
	registry := pool.NewRegistry()

	cl := &Client{
		cfg:          cfg,
		clk:          clk,
		codec:        wire.DefaultCodec{},
		tlsWrapper:   defaultTLSWrapper{},
		registry:     registry,
		peerSema:     xsync.NewMap[string, *semaphore.Weighted](),
		mailbox:      make(chan func(), 64),
		shutdownDone: make(chan struct{}),
	}
	cl.sweeper = pool.NewSweeper(registry, clk,
		int64(cfg.KeepAliveTimeout.Milliseconds()),
		int64(cfg.ReadWriteTimeout.Milliseconds()),
		int64(cfg.ShutdownReadWriteTimeout.Milliseconds()),
	)
	cl.sweeper.SetDispatch(cl.onReactor)
	return cl
}

// newForTest lets pool/reactorhttp tests substitute a mock clock, the
// same seam the teacher's own tests would need for the sweeper cadence.
func newForTest(clk clock.Clock, opts ...Option) *Client {
	cl := New(opts...)
	cl.clk = clk
	cl.sweeper = pool.NewSweeper(cl.registry, clk,
		int64(cl.cfg.KeepAliveTimeout.Milliseconds()),
		int64(cl.cfg.ReadWriteTimeout.Milliseconds()),
		int64(cl.cfg.ShutdownReadWriteTimeout.Milliseconds()),
	)
	cl.sweeper.SetDispatch(cl.onReactor)
	return cl
}

// Start validates nothing but the single-start invariant and launches
// the reactor goroutine that owns every Pool/Connection mutation, per
// §4.5: "resolves immediately (no I/O prelude)".
func (cl *Client) Start() error {
	cl.startOnce.Do(func() {
		atomic.StoreInt32(&cl.started, 1)
		cl.wg.Add(1)
		go cl.reactorLoop()
	})
	return nil
}

func (cl *Client) reactorLoop() {
	defer cl.wg.Done()
	for fn := range cl.mailbox {
		fn()
	}
}

// onReactor runs fn on the reactor goroutine and blocks until it has
// completed, giving every Pool/Connection mutation the single-thread
// confinement §5 requires without a literal single OS thread.
func (cl *Client) onReactor(fn func()) {
	done := make(chan struct{})
	cl.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// Stop implements §4.5: marks shutting_down, drains every Idle
// connection synchronously, and blocks until every Busy connection has
// also closed (via sweeper expiry at ShutdownReadWriteTimeout, or
// natural completion) or ctx is done, whichever comes first. It then
// joins the reactor goroutine so a caller can assert no goroutines
// remain (the shutdown-drain scenario from §8 is exactly this check).
func (cl *Client) Stop(ctx context.Context) error {
	var ctxErr error
	cl.stopOnce.Do(func() {
		slog.LogAttrs(ctx, slog.LevelDebug, "client shutdown starting")

		cl.onReactor(func() {
			cl.registry.SetShuttingDown(true)
			cl.registry.DrainIdle(ErrShuttingDown)
			cl.maybeCompleteShutdown()
		})

		select {
		case <-cl.shutdownDone:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			slog.LogAttrs(ctx, slog.LevelError,
				"client shutdown deadline exceeded before all connections drained",
				slog.Int("busy_remaining", cl.registry.BusyCount()),
			)
		}

		close(cl.mailbox)
		cl.wg.Wait()
	})
	return ctxErr
}

// maybeCompleteShutdown is the on_connection_closed hook of §4.5: once
// shutting_down and total connections reach zero, the shutdown signal
// completes exactly once. Must be called from the reactor goroutine.
func (cl *Client) maybeCompleteShutdown() {
	if cl.registry.ShuttingDown() && cl.registry.TotalConnections() == 0 {
		cl.shutdownCompleteOnce.Do(func() { close(cl.shutdownDone) })
	}
}

// peerSemaphore lazily creates the per-peer dial admission limiter
// described in SPEC_FULL.md §5, completing the teacher's own
// "semaphore slot for max connections per host tracker" TODO. A nil
// return means unbounded — Config.MaxConnectionsPerPeer's zero value.
func (cl *Client) peerSemaphore(peer string) *semaphore.Weighted {
	if cl.cfg.MaxConnectionsPerPeer <= 0 {
		return nil
	}
	if s, ok := cl.peerSema.Load(peer); ok {
		return s
	}
	s := semaphore.NewWeighted(cl.cfg.MaxConnectionsPerPeer)
	s, _ = cl.peerSema.LoadOrStore(peer, s)
	return s
}

// Do is the request(HttpRequest) -> future<HttpResponse> entry point of
// §4.4, steps 1-4: thread-confinement is enforced implicitly by routing
// every Pool mutation through onReactor rather than by rejecting the
// calling goroutine outright, since Go request goroutines are expected
// to call Do concurrently. Host extraction and DNS resolution happen
// here; round-robin selection, lease/dial, and send happen in doSend.
func (cl *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.registry.ShuttingDown() {
		return nil, ErrShuttingDown
	}

	requestID := uuid.New().String()
	cl.cfg.Inspector.OnRequest(requestID)

	host, port, err := extractHostPort(req.URL)
	if err != nil {
		return nil, err
	}

	dnsResp, err := cl.cfg.Resolver.ResolveA(ctx, host)
	if err != nil {
		rerr := &ResolveError{Host: host, Err: err}
		cl.cfg.Inspector.OnResolveError(requestID, host, rerr)
		return nil, rerr
	}
	if !dnsResp.Successful || len(dnsResp.IPs) == 0 {
		rerr := &dnsQueryError{host: host}
		cl.cfg.Inspector.OnResolveError(requestID, host, rerr)
		return nil, rerr
	}
	cl.cfg.Inspector.OnResolve(requestID, host, dnsResp.IPs)

	return cl.doSend(ctx, requestID, req, host, port, dnsResp.IPs)
}
