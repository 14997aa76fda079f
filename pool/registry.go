package pool

import (
	"sync/atomic"

	"github.com/kavrenko/reactorhttp/xqueue"
	"github.com/kavrenko/reactorhttp/xsync"
)

// addressQueue is the PerAddressQueue of §3: the teacher's
// xqueue.LIFO[*Connection] unmodified in algorithm. Put appends at the
// tail (FIFO insert), Get pops from the tail (LRU-take-from-tail per
// §4.2's mandate that hot connections are preferred and cold ones age
// into expiry) — exactly the stack semantics xqueue.LIFO already
// provides.
type addressQueue struct {
	q xqueue.LIFO[*Connection]
}

func newAddressQueue() *addressQueue {
	op := xqueue.LIFOOpts[*Connection]()
	q, err := xqueue.NewLIFO(op.MaxCapacity(1 << 20))
	if err != nil {
		// MaxCapacity above is always valid; this would indicate a
		// programming error in this package, not a runtime condition.
		panic(err)
	}
	return &addressQueue{q: q}
}

func (a *addressQueue) put(c *Connection) bool {
	return a.q.Put(c)
}

func (a *addressQueue) takeTail() (*Connection, bool) {
	return a.q.Get()
}

func (a *addressQueue) isEmpty() bool {
	empty := true
	a.q.WithWriteLock(func(s *[]*Connection) {
		empty = len(*s) == 0
	})
	return empty
}

// removeConn detaches a specific connection from the middle of the
// stack, an O(n) scan exactly like the teacher's refreshCacheLayers
// scan over idleConns in xnet/xhttp/transport.go. It is only ever
// invoked from Connection.Close, which is not a hot path.
func (a *addressQueue) removeConn(c *Connection) {
	a.q.WithWriteLock(func(s *[]*Connection) {
		stack := *s
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == c {
				copy(stack[i:], stack[i+1:])
				stack[len(stack)-1] = nil
				*s = stack[:len(stack)-1]
				return
			}
		}
	})
}

// Registry is the Pool Registry of §4.2: two global lists threading
// through all Connections, plus a peer-address -> PerAddressQueue map.
// Every method assumes it is called from the single reactor goroutine;
// see package doc.
type Registry struct {
	idleList dlist
	busyList dlist
	addrMap  xsync.Map[string, *addressQueue]

	idleExpiredTotal int64
	busyExpiredTotal int64

	// shuttingDown is read from Dispatcher call sites outside the
	// reactor goroutine (reactorhttp.Client.Do checks it before ever
	// touching the mailbox), so it is an atomic.Bool rather than a
	// plain bool guarded only by onReactor confinement like the rest
	// of this struct.
	shuttingDown atomic.Bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{addrMap: xsync.NewMap[string, *addressQueue]()}
}

func (r *Registry) IdleCount() int { return r.idleList.len() }
func (r *Registry) BusyCount() int { return r.busyList.len() }

func (r *Registry) IdleExpiredTotal() int64 { return r.idleExpiredTotal }
func (r *Registry) BusyExpiredTotal() int64 { return r.busyExpiredTotal }

func (r *Registry) ShuttingDown() bool     { return r.shuttingDown.Load() }
func (r *Registry) SetShuttingDown(v bool) { r.shuttingDown.Store(v) }

// TryTakeIdle looks up peer's per-address queue and removes its tail
// member, promoting it to Busy and the busy_list. O(1). Returns
// (nil, false) on a miss.
func (r *Registry) TryTakeIdle(peer string) (*Connection, bool) {
	aq, ok := r.addrMap.Load(peer)
	if !ok {
		return nil, false
	}

	c, ok := aq.takeTail()
	if !ok {
		return nil, false
	}

	r.idleList.remove(c)
	c.addrQueue = nil

	if aq.isEmpty() {
		r.addrMap.Delete(peer)
	}

	c.markBusy()
	r.busyList.pushBack(c)
	c.ownerList = &r.busyList

	return c, true
}

// ReturnToIdle implements §4.2: asserts state == Busy, moves the
// connection from busy_list into its peer's per-address queue and the
// global idle_list, and arms the sweeper if it isn't already.
//
// Per the Open Question resolution in the Design Notes, a client that
// is shutting down forces an Evict instead of ever re-entering the
// idle list — this check is a first-class look at r.shuttingDown, not
// an inference from the keep-alive timeout being zero.
func (r *Registry) ReturnToIdle(c *Connection, nowMillis int64, armSweeper func()) error {
	if c.state != Busy {
		return ErrNotBusy
	}

	if r.shuttingDown.Load() {
		return c.Close(errShuttingDownEvict)
	}

	r.busyList.remove(c)
	c.ownerList = nil

	aq, ok := r.addrMap.Load(c.Peer)
	if !ok {
		aq = newAddressQueue()
		aq, _ = r.addrMap.LoadOrStore(c.Peer, aq)
	}
	aq.put(c)
	c.addrQueue = aq

	c.markIdle(nowMillis)
	r.idleList.pushBack(c)
	c.ownerList = &r.idleList

	if armSweeper != nil {
		armSweeper()
	}

	return nil
}

// RegisterNewBusy adds a freshly dialed connection to busy_list and
// ensures the sweeper is scheduled, per §4.2.
func (r *Registry) RegisterNewBusy(c *Connection, armSweeper func()) {
	r.busyList.pushBack(c)
	c.ownerList = &r.busyList
	if armSweeper != nil {
		armSweeper()
	}
}

// Evict removes c from whatever list holds it and closes it; a no-op
// if c is already Closed, matching §4.2.
func (r *Registry) Evict(c *Connection, reason error) error {
	return c.Close(reason)
}

// DrainIdle synchronously closes every Idle connection, per the
// Lifecycle Controller's stop() semantics in §4.5. After it returns,
// addrMap is empty.
func (r *Registry) DrainIdle(reason error) {
	for {
		c := r.idleList.front()
		if c == nil {
			return
		}
		c.Close(reason)
		if aq, ok := r.addrMap.Load(c.Peer); ok && aq.isEmpty() {
			r.addrMap.Delete(c.Peer)
		}
	}
}

// TotalConnections is idle_list.size + busy_list.size, the quantity
// the Lifecycle Controller watches for "reached zero".
func (r *Registry) TotalConnections() int {
	return r.idleList.len() + r.busyList.len()
}

var errShuttingDownEvict = &shutdownEvictError{}

type shutdownEvictError struct{}

func (*shutdownEvictError) Error() string {
	return "pool: client is shutting down, connection evicted instead of returned to idle"
}
