package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Target is what the sweeper drives on every tick. Each per-room callback
// reports false once the room no longer exists, which stops that room's timers
// unless the room was watched again while the callback ran. Targets that
// serialise room creation with Watch should Unwatch a room under the same lock
// that deletes it.
type Target interface {
	CheckHeartbeats(roomID string) bool
	SweepParticipants(roomID string, now time.Time, timeout time.Duration) bool
	SweepRooms(now time.Time, timeout time.Duration) []string
}

// Config holds the presence timing
type Config struct {
	HeartbeatInterval     time.Duration // heartbeat-check prompt period
	SweepInterval         time.Duration // participant sweep period
	ParticipantTimeout    time.Duration // heartbeat age that evicts a participant
	RoomSweepInterval     time.Duration // global room reaper period
	RoomInactivityTimeout time.Duration // idle age that reaps a room
}

// DefaultConfig returns the reference timings
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:     5 * time.Second,
		SweepInterval:         10 * time.Second,
		ParticipantTimeout:    30 * time.Second,
		RoomSweepInterval:     time.Minute,
		RoomInactivityTimeout: time.Hour,
	}
}

// watch is one generation of a room's timers. renewals counts the Watch calls
// that found it already running.
type watch struct {
	cancel   context.CancelFunc
	renewals uint64
}

// Sweeper runs the failure detector: per-room heartbeat-check and
// participant-sweep tickers, plus one global reaper for idle rooms.
type Sweeper struct {
	target Target
	clock  clockwork.Clock
	config Config

	mu     sync.Mutex
	rooms  map[string]*watch
	closed bool
}

// NewSweeper creates a sweeper. Timers are only started by Watch and Run.
func NewSweeper(target Target, clock clockwork.Clock, config Config) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		target: target,
		clock:  clock,
		config: config,
		rooms:  make(map[string]*watch),
	}
}

// Watch starts the room's timers unless they are already running.
// It reports whether timers were started.
func (s *Sweeper) Watch(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if w, exists := s.rooms[roomID]; exists {
		w.renewals++
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{cancel: cancel}
	s.rooms[roomID] = w

	heartbeat := s.clock.NewTicker(s.config.HeartbeatInterval)
	sweep := s.clock.NewTicker(s.config.SweepInterval)

	go s.loop(ctx, roomID, w, heartbeat, func() bool {
		return s.target.CheckHeartbeats(roomID)
	})
	go s.loop(ctx, roomID, w, sweep, func() bool {
		return s.target.SweepParticipants(roomID, s.clock.Now(), s.config.ParticipantTimeout)
	})

	log.Debug().
		Str("room_id", roomID).
		Dur("heartbeat_interval", s.config.HeartbeatInterval).
		Dur("sweep_interval", s.config.SweepInterval).
		Msg("room timers started")

	return true
}

// Unwatch stops the room's timers. Safe to call any number of times.
func (s *Sweeper) Unwatch(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.rooms[roomID]
	if !exists {
		return false
	}
	w.cancel()
	delete(s.rooms, roomID)

	log.Debug().Str("room_id", roomID).Msg("room timers stopped")
	return true
}

// generation is a point-in-time view of a watch
type generation struct {
	w        *watch
	renewals uint64
}

// release stops generation g after the target reported its room gone. A
// generation that was replaced, or watched again since g was taken, is left
// running. It reports whether g's timers are stopped.
func (s *Sweeper) release(roomID string, g generation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.rooms[roomID]
	if !exists || current != g.w {
		g.w.cancel()
		return true
	}
	if current.renewals != g.renewals {
		log.Debug().Str("room_id", roomID).Msg("room watched again, timers kept")
		return false
	}

	current.cancel()
	delete(s.rooms, roomID)
	log.Debug().Str("room_id", roomID).Msg("room gone, timers stopped")
	return true
}

func (s *Sweeper) loop(ctx context.Context, roomID string, w *watch, ticker clockwork.Ticker, tick func() bool) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			g := generation{w: w, renewals: w.renewals}
			s.mu.Unlock()

			if !tick() && s.release(roomID, g) {
				return
			}
		}
	}
}

// Watching reports whether the room's timers are running
func (s *Sweeper) Watching(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.rooms[roomID]
	return exists
}

// Len returns the number of rooms with running timers
func (s *Sweeper) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rooms)
}

// Run reaps idle rooms every RoomSweepInterval until ctx is cancelled, then
// stops every room's timers.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.config.RoomSweepInterval).
		Dur("inactivity_timeout", s.config.RoomInactivityTimeout).
		Msg("room reaper started")

	ticker := s.clock.NewTicker(s.config.RoomSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			log.Info().Msg("room reaper shutting down")
			return nil
		case <-ticker.Chan():
			s.reap()
		}
	}
}

func (s *Sweeper) reap() {
	s.mu.Lock()
	before := make(map[string]generation, len(s.rooms))
	for roomID, w := range s.rooms {
		before[roomID] = generation{w: w, renewals: w.renewals}
	}
	s.mu.Unlock()

	reaped := s.target.SweepRooms(s.clock.Now(), s.config.RoomInactivityTimeout)
	for _, roomID := range reaped {
		// A room first watched during the reap is a new room
		if g, exists := before[roomID]; exists {
			s.release(roomID, g)
		}
	}
	if len(reaped) > 0 {
		log.Info().
			Strs("room_ids", reaped).
			Int("count", len(reaped)).
			Msg("reaped inactive rooms")
	}
}

// Close stops every timer. Watch is a no-op afterwards.
func (s *Sweeper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, w := range s.rooms {
		w.cancel()
		log.Debug().Str("room_id", roomID).Msg("cancelled room timers on shutdown")
	}
	s.rooms = make(map[string]*watch)
	s.closed = true
}
