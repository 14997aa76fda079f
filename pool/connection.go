// Package pool implements the connection lifecycle and keep-alive
// cache: Connection, the per-address LIFO queue, the idle/busy
// intrusive lists, and the expiry sweeper that enforces both timeout
// families on a single amortized timer.
package pool

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/kavrenko/reactorhttp/internal"
	"github.com/kavrenko/reactorhttp/wire"
)

// State is one of the three Connection lifecycle states from §3.
type State int

const (
	Busy State = iota
	Idle
	Closed
)

func (s State) String() string {
	switch s {
	case Busy:
		return "busy"
	case Idle:
		return "idle"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed is returned by Send when the connection is already Closed.
	ErrClosed = errors.New("pool: connection is closed")
	// ErrNotBusy is returned by ReturnToIdle when the precondition
	// state == Busy does not hold.
	ErrNotBusy = errors.New("pool: connection is not busy")
)

// Connection is a half-duplex state machine over one transport socket.
// It is mutated only by the owning reactor goroutine; see package doc.
type Connection struct {
	ID   uuid.UUID
	Peer string // resolved "ip:port", immutable after construction

	socket net.Conn
	reader *bufio.Reader
	codec  wire.Codec

	state                State
	lastActivityMillis   int64
	createdAtMillis      int64
	keepAliveCount       int
	maxKeepAliveRequests int // 0 == unlimited

	// intrusive link fields for whichever of the registry's two global
	// lists (idle_list, busy_list) this connection currently belongs
	// to; never both at once. See list.go.
	listPrev, listNext *Connection

	// ownerList/addrQueue track which registry structures currently
	// hold this connection, so Close can self-detach from "whatever
	// list holds it" per §4.1 without the caller needing to know.
	ownerList *dlist
	addrQueue *addressQueue

	closeOnce sync.Once
	closeErr  error

	// onClosed is the lifecycle controller's on_connection_closed hook,
	// invoked exactly once regardless of close reason.
	onClosed func(*Connection, error)
}

// NewConnection wraps a freshly dialed socket in Busy state, matching
// the Dispatcher precondition in §4.1 that callers lease or create a
// Connection already Busy.
func NewConnection(id uuid.UUID, peer string, socket net.Conn, codec wire.Codec, createdAtMillis int64, maxKeepAliveRequests int, onClosed func(*Connection, error)) *Connection {
	return &Connection{
		ID:                   id,
		Peer:                 peer,
		socket:               socket,
		reader:               bufio.NewReader(socket),
		codec:                codec,
		state:                Busy,
		createdAtMillis:      createdAtMillis,
		lastActivityMillis:   createdAtMillis,
		maxKeepAliveRequests: maxKeepAliveRequests,
		onClosed:             onClosed,
	}
}

func (c *Connection) State() State { return c.state }

func (c *Connection) LastActivityMillis() int64 { return c.lastActivityMillis }

func (c *Connection) KeepAliveCount() int { return c.keepAliveCount }

func (c *Connection) touch(nowMillis int64) { c.lastActivityMillis = nowMillis }

// Send writes req onto the socket and reads back the full response,
// per §4.1. The caller (Dispatcher) must have already leased this
// connection (state == Busy). keepAliveTimeoutMillis == 0 disables
// keep-alive outright, regardless of what the response negotiates.
//
// The response body is fully drained before Send returns, grounded on
// the teacher's contextReadAll/errReader pattern in RoundTrip: §5's
// "response N fully delivered before request N+1 is written" ordering
// guarantee only holds if the socket is not handed back (or reused for
// keep-alive accounting) while the caller might still be mid-read on a
// body sharing that same socket's buffer. maxBodySize enforces §6's
// ProtocolError-on-overflow edge case.
func (c *Connection) Send(req *wire.Request, keepAliveTimeoutMillis, maxBodySize int, nowMillis int64) (*wire.Response, bool, error) {
	if c.state == Closed || c.socket == nil {
		return nil, false, ErrClosed
	}
	if c.state != Busy {
		return nil, false, ErrNotBusy
	}

	if err := c.codec.EncodeRequest(c.socket, req); err != nil {
		return nil, false, err
	}

	resp, err := c.codec.DecodeResponse(c.reader, req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	body, err := drainBody(resp.Body, maxBodySize)
	resp.Body.Close()
	if err != nil {
		return nil, false, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	c.touch(nowMillis)

	eligible := c.evaluateKeepAlive(req, resp, keepAliveTimeoutMillis)
	return resp, eligible, nil
}

// drainBody reads r fully, failing with ErrProtocol if it exceeds
// maxBodySize, the same body-size overflow edge case §6/§7 name.
func drainBody(r io.Reader, maxBodySize int) ([]byte, error) {
	limited := io.LimitReader(r, int64(maxBodySize)+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(b) > maxBodySize {
		return nil, fmt.Errorf("%w: response body exceeds max size %d", ErrProtocol, maxBodySize)
	}
	return b, nil
}

// evaluateKeepAlive implements the §4.1 keep-alive eligibility rule:
// response carries keep-alive, the post-increment count stays within
// cap (cap==0 meaning unlimited), and the configured keep-alive
// timeout is non-zero.
func (c *Connection) evaluateKeepAlive(req *wire.Request, resp *wire.Response, keepAliveTimeoutMillis int) bool {
	if keepAliveTimeoutMillis == 0 {
		return false
	}

	reqIntent := wire.ParseConnectionHeader(req.Header)
	if reqIntent.Present && !reqIntent.KeepAlive {
		return false
	}

	respIntent := wire.ParseConnectionHeader(resp.Header)

	var respAllows bool
	switch {
	case resp.ProtoMajor == 1 && resp.ProtoMinor == 0:
		respAllows = respIntent.KeepAlive
	case resp.ProtoMajor == 1 && resp.ProtoMinor == 1:
		respAllows = !respIntent.Present || respIntent.KeepAlive
	default:
		respAllows = false
	}

	if !respAllows {
		return false
	}

	next := c.keepAliveCount + 1
	if c.maxKeepAliveRequests > 0 && next > c.maxKeepAliveRequests {
		return false
	}

	c.keepAliveCount = next
	return true
}

// markIdle transitions the connection to Idle. Callers (pool.Registry)
// are responsible for the list-membership side of the transition; this
// only updates the state machine and timestamp.
func (c *Connection) markIdle(nowMillis int64) {
	c.state = Idle
	c.touch(nowMillis)
}

// markBusy transitions a freshly dialed connection, or a leased idle
// one, back to Busy.
func (c *Connection) markBusy() {
	c.state = Busy
}

// IsActive reports whether the underlying socket still looks connected,
// using a non-blocking MSG_PEEK the same way the teacher's
// xnet/internal.IsConnected does. Used on a cache hit, before handing
// an idle connection back out, to detect a server-initiated close that
// the sweeper hasn't caught yet.
func (c *Connection) IsActive() bool {
	if c.socket == nil {
		return false
	}
	return internal.IsConnectedNoErr(c.socket)
}

// Close is idempotent: the reason on the first call wins, every
// subsequent call is a no-op that returns the first error.
func (c *Connection) Close(reason error) error {
	c.closeOnce.Do(func() {
		c.closeErr = reason

		if c.addrQueue != nil {
			c.addrQueue.removeConn(c)
			c.addrQueue = nil
		}
		if c.ownerList != nil {
			c.ownerList.remove(c)
			c.ownerList = nil
		}

		c.state = Closed
		if c.socket != nil {
			_ = c.socket.Close()
		}
		if c.onClosed != nil {
			c.onClosed(c, reason)
		}
	})
	return c.closeErr
}
