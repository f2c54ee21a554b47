package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeTarget struct {
	mu          sync.Mutex
	gone        map[string]bool
	heartbeats  map[string]int
	sweeps      map[string]int
	sweptAt     time.Time
	timeout     time.Duration
	reapCalls   int
	reapTimeout time.Duration
	reapable    []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		gone:       map[string]bool{},
		heartbeats: map[string]int{},
		sweeps:     map[string]int{},
	}
}

func (f *fakeTarget) CheckHeartbeats(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats[roomID]++
	return !f.gone[roomID]
}

func (f *fakeTarget) SweepParticipants(roomID string, now time.Time, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps[roomID]++
	f.sweptAt = now
	f.timeout = timeout
	return !f.gone[roomID]
}

func (f *fakeTarget) SweepRooms(now time.Time, timeout time.Duration) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapCalls++
	f.reapTimeout = timeout
	reaped := f.reapable
	f.reapable = nil
	return reaped
}

func (f *fakeTarget) markGone(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone[roomID] = true
}

func (f *fakeTarget) counts(roomID string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats[roomID], f.sweeps[roomID]
}

// rejoinTarget re-creates a room while the sweeper is deciding it is gone,
// the way a join racing a sweep does
type rejoinTarget struct {
	*fakeTarget
	sweeper  *Sweeper
	unwatch  bool
	rejoined bool
}

func (r *rejoinTarget) rejoin(roomID string) {
	if r.unwatch {
		r.sweeper.Unwatch(roomID)
	}
	r.sweeper.Watch(roomID)
}

func (r *rejoinTarget) SweepParticipants(roomID string, now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	first := !r.rejoined
	r.rejoined = true
	r.mu.Unlock()

	if first {
		r.rejoin(roomID)
	}
	r.fakeTarget.SweepParticipants(roomID, now, timeout)
	return !first
}

func (r *rejoinTarget) SweepRooms(now time.Time, timeout time.Duration) []string {
	reaped := r.fakeTarget.SweepRooms(now, timeout)
	for _, roomID := range reaped {
		r.rejoin(roomID)
	}
	return reaped
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestSweeper_WatchIsIdempotent(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	s := NewSweeper(newFakeTarget(), clock, DefaultConfig())
	defer s.Close()

	req.True(s.Watch("r1"))
	req.False(s.Watch("r1"))
	req.True(s.Watching("r1"))
	req.Equal(1, s.Len())

	// Then only one heartbeat ticker and one sweep ticker exist
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(clock.BlockUntilContext(ctx, 2))
}

func TestSweeper_TicksDriveTarget(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	target := newFakeTarget()
	s := NewSweeper(target, clock, DefaultConfig())
	defer s.Close()

	s.Watch("r1")

	// When 5s elapse, a heartbeat check is sent
	clock.Advance(5 * time.Second)
	waitFor(t, func() bool { hb, _ := target.counts("r1"); return hb == 1 })
	_, sweeps := target.counts("r1")
	req.Equal(0, sweeps)

	// When 10s elapse, participants are swept with the configured timeout
	clock.Advance(5 * time.Second)
	waitFor(t, func() bool { hb, sw := target.counts("r1"); return hb == 2 && sw == 1 })

	target.mu.Lock()
	defer target.mu.Unlock()
	req.Equal(30*time.Second, target.timeout)
	req.Equal(epoch.Add(10*time.Second), target.sweptAt)
}

func TestSweeper_StopsWhenRoomGone(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	target := newFakeTarget()
	s := NewSweeper(target, clock, DefaultConfig())
	defer s.Close()

	s.Watch("r1")
	s.Watch("r2")
	target.markGone("r1")

	clock.Advance(5 * time.Second)
	waitFor(t, func() bool { return !s.Watching("r1") })
	req.True(s.Watching("r2"))

	// Then r1's tickers are released; only r2's two remain
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(clock.BlockUntilContext(ctx, 2))

	// Given the room comes back, a fresh generation can be started
	req.True(s.Watch("r1"))
}

func TestSweeper_RoomWatchedDuringSweepKeepsTimers(t *testing.T) {
	for _, unwatch := range []bool{false, true} {
		name := "watched again"
		if unwatch {
			name = "unwatched then watched again"
		}
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			clock := clockwork.NewFakeClockAt(epoch)
			target := &rejoinTarget{fakeTarget: newFakeTarget(), unwatch: unwatch}
			cfg := DefaultConfig()
			cfg.HeartbeatInterval = time.Hour
			s := NewSweeper(target, clock, cfg)
			target.sweeper = s
			defer s.Close()

			s.Watch("R")

			// When the sweep reports the room gone while it is re-created
			clock.Advance(10 * time.Second)
			waitFor(t, func() bool { _, sw := target.counts("R"); return sw == 1 })

			// Then the room keeps a running sweep
			clock.Advance(10 * time.Second)
			waitFor(t, func() bool { _, sw := target.counts("R"); return sw == 2 })
			req.True(s.Watching("R"))
			req.Equal(1, s.Len())
		})
	}
}

func TestSweeper_RoomWatchedDuringReapKeepsTimers(t *testing.T) {
	for _, unwatch := range []bool{false, true} {
		name := "watched again"
		if unwatch {
			name = "unwatched then watched again"
		}
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			clock := clockwork.NewFakeClockAt(epoch)
			target := &rejoinTarget{fakeTarget: newFakeTarget(), unwatch: unwatch}
			target.reapable = []string{"R"}
			s := NewSweeper(target, clock, DefaultConfig())
			target.sweeper = s
			defer s.Close()

			s.Watch("R")
			s.reap()

			req.True(s.Watching("R"))

			// Then the surviving generation still ticks
			clock.Advance(5 * time.Second)
			waitFor(t, func() bool { hb, _ := target.counts("R"); return hb >= 1 })
			req.True(s.Watching("R"))
		})
	}
}

func TestSweeper_ReapIgnoresRoomsWatchedAfterSnapshot(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	target := &rejoinTarget{fakeTarget: newFakeTarget()}
	target.reapable = []string{"NEW"}
	s := NewSweeper(target, clock, DefaultConfig())
	target.sweeper = s
	defer s.Close()

	// When a room first watched during the reap is reported reaped
	s.reap()

	// Then it is treated as a new room
	req.True(s.Watching("NEW"))
}

func TestSweeper_UnwatchIsIdempotent(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	target := newFakeTarget()
	s := NewSweeper(target, clock, DefaultConfig())
	defer s.Close()

	s.Watch("r1")
	req.True(s.Unwatch("r1"))
	req.False(s.Unwatch("r1"))
	req.False(s.Watching("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(clock.BlockUntilContext(ctx, 0))

	// Then no more ticks reach the target
	clock.Advance(time.Minute)
	hb, sw := target.counts("r1")
	req.Equal(0, hb)
	req.Equal(0, sw)
}

func TestSweeper_RunReapsInactiveRooms(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	target := newFakeTarget()
	target.reapable = []string{"r1"}
	s := NewSweeper(target, clock, DefaultConfig())

	s.Watch("r1")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	req.NoError(clock.BlockUntilContext(blockCtx, 3))

	clock.Advance(time.Minute)
	waitFor(t, func() bool { return !s.Watching("r1") })

	target.mu.Lock()
	req.GreaterOrEqual(target.reapCalls, 1)
	req.Equal(time.Hour, target.reapTimeout)
	target.mu.Unlock()

	// When the context is cancelled, Run returns and further watches are refused
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("Run did not return after cancellation")
	}
	req.False(s.Watch("r2"))
}

func TestSweeper_CloseStopsEverything(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClockAt(epoch)
	s := NewSweeper(newFakeTarget(), clock, DefaultConfig())

	s.Watch("r1")
	s.Watch("r2")
	s.Close()
	s.Close()

	req.Equal(0, s.Len())
	req.False(s.Watch("r3"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(clock.BlockUntilContext(ctx, 0))
}
