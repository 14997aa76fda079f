package pool

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	ck "github.com/kavrenko/reactorhttp/clock"
)

// sweepInterval is the fixed sweeper cadence from §4.3.
const sweepInterval = 1000 * time.Millisecond

// Sweeper is the single self-rescheduling task of §4.3: on every tick
// it walks idle_list then busy_list, closing whatever has crossed its
// deadline, and reschedules itself iff any Connection remains.
type Sweeper struct {
	registry *Registry
	clk      ck.Clock

	keepAliveTimeoutMillis         int64
	readWriteTimeoutMillis         int64
	shutdownReadWriteTimeoutMillis int64

	timer     *clock.Timer
	scheduled bool

	// dispatch routes a tick onto the caller's single reactor goroutine,
	// since the host Clock fires AfterFunc callbacks on a goroutine of
	// its own choosing. nil means "run inline", the behavior pool-level
	// tests that drive the registry directly rely on.
	dispatch func(func())
}

// NewSweeper builds a Sweeper bound to registry and clk. Timeouts of 0
// mean "disabled" / "unbounded" per §6, exactly as the millisecond
// knobs on reactorhttp.Config.
func NewSweeper(registry *Registry, clk ck.Clock, keepAliveTimeoutMillis, readWriteTimeoutMillis, shutdownReadWriteTimeoutMillis int64) *Sweeper {
	return &Sweeper{
		registry:                       registry,
		clk:                            clk,
		keepAliveTimeoutMillis:         keepAliveTimeoutMillis,
		readWriteTimeoutMillis:         readWriteTimeoutMillis,
		shutdownReadWriteTimeoutMillis: shutdownReadWriteTimeoutMillis,
	}
}

// SetDispatch installs the function every tick is routed through. The
// owning reactorhttp.Client wires this to its mailbox-backed onReactor
// so a tick firing on the Clock's own timer goroutine still observes
// and mutates the Registry under the single-reactor-thread invariant.
func (s *Sweeper) SetDispatch(dispatch func(func())) {
	s.dispatch = dispatch
}

// EnsureScheduled arms the sweeper if it is not already running. Both
// Registry.ReturnToIdle and Registry.RegisterNewBusy call this.
func (s *Sweeper) EnsureScheduled() {
	if s.scheduled {
		return
	}
	s.scheduled = true
	s.schedule()
}

func (s *Sweeper) schedule() {
	s.timer = s.clk.AfterFunc(sweepInterval, s.fire)
}

// fire is the raw Clock callback; it routes onto dispatch before
// running tick's Registry mutations.
func (s *Sweeper) fire() {
	if s.dispatch != nil {
		s.dispatch(s.tick)
		return
	}
	s.tick()
}

// tick performs one sweep pass. Ordering guarantee from §4.3: it runs
// on the reactor goroutine between other tasks, so it never
// interleaves mid-request.
func (s *Sweeper) tick() {
	now := ck.NowMillis(s.clk)

	s.sweepIdle(now)
	s.sweepBusy(now)

	s.scheduled = false
	if s.registry.TotalConnections() > 0 {
		s.scheduled = true
		s.schedule()
	}
}

// sweepIdle implements §4.3 step 1: idle_list is insertion-ordered, so
// the scan stops at the first non-expired entry.
func (s *Sweeper) sweepIdle(now int64) {
	for {
		c := s.registry.idleList.front()
		if c == nil {
			return
		}
		if now-c.LastActivityMillis() < s.keepAliveTimeoutMillis {
			return
		}
		slog.Debug("idle connection expired", "peer", c.Peer, "conn_id", c.ID.String())
		c.Close(ErrIdleExpired)
		s.registry.idleExpiredTotal++
	}
}

// sweepBusy implements §4.3 step 2: the shutdown-drain deadline
// replaces the configured read/write deadline while shutting down,
// and the walk is skipped entirely when the deadline is 0 and the
// client is not shutting down (unbounded active requests).
func (s *Sweeper) sweepBusy(now int64) {
	shuttingDown := s.registry.ShuttingDown()

	deadline := s.readWriteTimeoutMillis
	if shuttingDown {
		deadline = s.shutdownReadWriteTimeoutMillis
	}

	if deadline == 0 && !shuttingDown {
		return
	}

	for {
		c := s.registry.busyList.front()
		if c == nil {
			return
		}
		if now-c.LastActivityMillis() < deadline {
			return
		}
		slog.Warn("active connection exceeded read/write deadline", "peer", c.Peer, "conn_id", c.ID.String(), "shutting_down", shuttingDown)
		c.Close(ErrReadTimeout)
		s.registry.busyExpiredTotal++
	}
}

// Stop cancels any pending tick. Used by the lifecycle controller once
// the registry has reached zero connections.
func (s *Sweeper) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.scheduled = false
}
