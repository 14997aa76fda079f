package pool

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	ck "github.com/kavrenko/reactorhttp/clock"
	"github.com/kavrenko/reactorhttp/wire"

	"github.com/google/uuid"
)

func newConnAt(mock *clock.Mock, peer string) *Connection {
	return NewConnection(uuid.New(), peer, &fakeSocket{}, wire.DefaultCodec{}, ck.NowMillis(mock), 0, nil)
}

func TestSweeperExpiresIdleConnections(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 5000, 0, 0)

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)
	require.NoError(t, r.ReturnToIdle(c, ck.NowMillis(mock), s.EnsureScheduled))
	require.Equal(t, 1, r.IdleCount())

	mock.Add(4*time.Second) // still within the 5s keep-alive timeout
	require.Equal(t, 1, r.IdleCount())

	mock.Add(2*time.Second) // total 6s, past the 5s timeout
	require.Equal(t, 0, r.IdleCount())
	require.Equal(t, Closed, c.State())
	require.Equal(t, int64(1), r.IdleExpiredTotal())
}

func TestSweeperExpiresBusyConnections(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 0, 3000, 0)

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)
	require.Equal(t, 1, r.BusyCount())

	mock.Add(4*time.Second) // past the 3s read/write timeout

	require.Equal(t, 0, r.BusyCount())
	require.Equal(t, Closed, c.State())
	require.Equal(t, int64(1), r.BusyExpiredTotal())
}

func TestSweeperSkipsBusyWalkWhenUnboundedAndNotShuttingDown(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 0, 0, 0)

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)

	mock.Add(60*time.Second) // no read/write timeout configured
	require.Equal(t, 1, r.BusyCount())
	require.Equal(t, Busy, c.State())
}

func TestSweeperUsesShutdownDeadlineWhileShuttingDown(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 0, 0, 1000)

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)
	r.SetShuttingDown(true)

	mock.Add(2*time.Second) // past the 1s shutdown deadline
	require.Equal(t, 0, r.BusyCount())
	require.Equal(t, Closed, c.State())
}

func TestSweeperStopsSelfWhenRegistryEmpty(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 1000, 0, 0)

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)
	require.NoError(t, r.ReturnToIdle(c, ck.NowMillis(mock), s.EnsureScheduled))

	mock.Add(2*time.Second) // expires the single idle connection
	require.Equal(t, 0, r.TotalConnections())
	require.False(t, s.scheduled, "sweeper must not reschedule itself once the registry is empty")
}

func TestSweeperDispatchRoutesTicksThroughCaller(t *testing.T) {
	mock := clock.NewMock()
	r := NewRegistry()
	s := NewSweeper(r, mock, 1000, 0, 0)

	var dispatched int
	s.SetDispatch(func(fn func()) {
		dispatched++
		fn()
	})

	c := newConnAt(mock, "10.0.0.1:80")
	r.RegisterNewBusy(c, s.EnsureScheduled)
	require.NoError(t, r.ReturnToIdle(c, ck.NowMillis(mock), s.EnsureScheduled))

	mock.Add(2 * time.Second)
	require.Equal(t, 1, dispatched)
	require.Equal(t, Closed, c.State())
}
