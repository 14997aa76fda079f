package reactorhttp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kavrenko/reactorhttp/resolver"
)

// fakeResolver always resolves host to a fixed, ordered set of IPs.
type fakeResolver struct {
	ips []net.IP
	err error
}

func (f *fakeResolver) ResolveA(context.Context, string) (resolver.Response, error) {
	if f.err != nil {
		return resolver.Response{}, f.err
	}
	return resolver.Response{Successful: true, IPs: f.ips}, nil
}

func mustIPs(addrs ...string) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			panic("bad test IP: " + a)
		}
		ips = append(ips, ip)
	}
	return ips
}

// fakeDialer serves a minimal HTTP/1.1 responder over a real loopback
// TCP listener, so conn.Send's real codec (net/http's
// Write/ReadResponse) exercises a genuine wire round-trip, and so the
// returned net.Conn is a *net.TCPConn backed by an actual file
// descriptor. Connection.IsActive's liveness probe type-asserts its
// socket to syscall.Conn, which only a real OS socket satisfies —
// net.Pipe's in-memory conns never do, so this fixture must dial a
// loopback TCP pair rather than a pipe for that check to mean anything
// in tests.
type fakeDialer struct {
	mu    sync.Mutex
	dials []string

	// respond, if set, overrides the canned 200 OK the server writes
	// back for every request. hang, if true, never writes a response
	// at all (used to exercise the active-connection read timeout).
	respond func(w io.Writer)
	hang    bool

	ln net.Listener
}

// newFakeDialer starts the loopback listener and its accept loop. The
// listener is closed automatically at the end of the test.
func newFakeDialer(t *testing.T) *fakeDialer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeDialer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go f.acceptLoop()
	return f
}

func (f *fakeDialer) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.serve(conn)
	}
}

// DialTimeout records address as the logical peer dialed (so dial-count
// and round-robin-sequence assertions stay address-aware) but connects
// the real socket to this fixture's own loopback listener.
func (f *fakeDialer) DialTimeout(_ string, address string, _ time.Duration) (net.Conn, error) {
	f.mu.Lock()
	f.dials = append(f.dials, address)
	f.mu.Unlock()

	return net.Dial("tcp", f.ln.Addr().String())
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

func (f *fakeDialer) dialedAddresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

func (f *fakeDialer) serve(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, req.Body)
		req.Body.Close()

		if f.hang {
			// simulate a server that accepted the request but never
			// answers; the only way this connection resolves is the
			// caller closing the socket out from under the read.
			<-make(chan struct{})
			return
		}

		if f.respond != nil {
			f.respond(conn)
			continue
		}
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}
}

func newTestRequest(t *testing.T, peer string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, "http://"+peer+"/", nil)
	require.NoError(t, err)
	return req
}

func TestKeepAliveReusesSingleDial(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1")}),
		WithKeepAliveTimeout(5*time.Second),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req := newTestRequest(t, "example.com")
	resp1, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp1.StatusCode)

	resp2, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp2.StatusCode)

	require.Equal(t, 1, dialer.dialCount(), "second request should reuse the idle connection from the first")
}

func TestIdleExpiryTriggersNewDial(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1")}),
		WithKeepAliveTimeout(5*time.Second),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req := newTestRequest(t, "example.com")
	_, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, dialer.dialCount())

	mock.Add(6 * time.Second) // past the 5s keep-alive timeout

	_, err = cl.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, dialer.dialCount(), "expired idle connection must not be reused")
}

func TestRoundRobinDialSequence(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1", "10.0.0.2", "10.0.0.3")}),
		WithNoKeepAlive(),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req := newTestRequest(t, "example.com")
	for i := 0; i < 6; i++ {
		_, err := cl.Do(context.Background(), req)
		require.NoError(t, err)
	}

	// cursor starts at 0, so the first dispatched request lands on the
	// first resolved IP, matching the literal dial-sequence example.
	want := []string{
		"10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80",
		"10.0.0.1:80", "10.0.0.2:80", "10.0.0.3:80",
	}
	require.Equal(t, want, dialer.dialedAddresses())
}

func TestNextRoundRobinIndexWrapsAtUint32Boundary(t *testing.T) {
	mock := clock.NewMock()
	cl := newForTest(mock, WithDialer(newFakeDialer(t)))

	cl.cursor = math.MaxUint32

	// pre-increment value is math.MaxUint32; masked with MaxInt32 and
	// reduced mod 3, so this call must not panic or go negative despite
	// the uint32 add wrapping to 0 immediately after.
	first := cl.nextRoundRobinIndex(3)
	require.Equal(t, int(uint32(math.MaxUint32&math.MaxInt32)%3), first)

	// the wrapped cursor is now 0, so the next call's pre-increment
	// value is also 0.
	second := cl.nextRoundRobinIndex(3)
	require.Equal(t, 0, second)
}

func TestMissingTLSContextFailsBeforeAnyDial(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1")}),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)

	_, err = cl.Do(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingTLSContext)
	require.Equal(t, 0, dialer.dialCount())
}

func TestActiveConnectionReadTimeoutEvictsAndFailsTheRequest(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	dialer.hang = true
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1")}),
		WithReadWriteTimeout(2*time.Second),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req := newTestRequest(t, "example.com")

	errCh := make(chan error, 1)
	go func() {
		_, err := cl.Do(context.Background(), req)
		errCh <- err
	}()

	// give doSend time to dial and block in conn.Send's read.
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, time.Millisecond)

	mock.Add(3 * time.Second) // past the 2s read/write timeout

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper-driven read timeout did not unblock the hung request")
	}
}

func TestShutdownDrainLeavesNoGoroutines(t *testing.T) {
	// registered before newFakeDialer's own cleanup, so it runs after the
	// fixture's listener is closed and checks only what the client left.
	t.Cleanup(func() { goleak.VerifyNone(t) })

	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{ips: mustIPs("10.0.0.1")}),
		WithKeepAliveTimeout(5*time.Second),
		WithSocketSettings(SocketSettings{}),
	)
	require.NoError(t, cl.Start())

	req := newTestRequest(t, "example.com")
	_, err := cl.Do(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, cl.Stop(context.Background()))

	_, err = cl.Do(context.Background(), req)
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestUnresolvableHostReturnsResolveError(t *testing.T) {
	mock := clock.NewMock()
	dialer := newFakeDialer(t)
	cl := newForTest(mock,
		WithDialer(dialer),
		WithResolver(&fakeResolver{err: fmt.Errorf("lookup failed")}),
	)
	require.NoError(t, cl.Start())
	defer cl.Stop(context.Background())

	req := newTestRequest(t, "example.com")
	_, err := cl.Do(context.Background(), req)

	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 0, dialer.dialCount())
}
