package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
	"github.com/mcdev12/planning-poker/go/internal/room/presence"
)

// Config holds configuration for the room gateway
type Config struct {
	Connection     ConnectionConfig
	Presence       presence.Config
	AllowedOrigins []string
	PublishTimeout time.Duration
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		Connection:     DefaultConnectionConfig(),
		Presence:       presence.DefaultConfig(),
		AllowedOrigins: []string{"http://localhost:3000"},
		PublishTimeout: 2 * time.Second,
	}
}

// Gateway terminates client websockets, applies their messages to the room
// store and fans the resulting room state out to every subscriber.
//
// All store mutations go through the dispatch lock together with the
// enqueue of the broadcast they cause, so subscribers observe room states in
// mutation order.
type Gateway struct {
	store       *room.Store
	publisher   events.Publisher
	clock       clockwork.Clock
	config      Config
	connections *ConnectionManager
	sweeper     *presence.Sweeper
	validate    *validator.Validate
	upgrader    websocket.Upgrader

	mu sync.Mutex // dispatch lock
}

// New creates a gateway over store. The gateway owns the presence sweeper
// that drives heartbeat checks and sweeps for the rooms it serves.
func New(store *room.Store, publisher events.Publisher, clock clockwork.Clock, config Config) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher()
	}

	g := &Gateway{
		store:       store,
		publisher:   publisher,
		clock:       clock,
		config:      config,
		connections: NewConnectionManager(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.Connection.ReadBufferSize,
			WriteBufferSize: config.Connection.WriteBufferSize,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
	}
	g.sweeper = presence.NewSweeper(g, clock, config.Presence)
	return g
}

// Start runs the global room reaper until ctx is cancelled
func (g *Gateway) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway")
	return g.sweeper.Run(ctx)
}

// Close stops every room timer and closes every connection
func (g *Gateway) Close() {
	g.sweeper.Close()
	g.connections.CloseAll()
	log.Info().Msg("room gateway stopped")
}

// Stats is the payload of the stats endpoint
type Stats struct {
	ConnectionStats
	ActiveRooms  int `json:"active_rooms"`
	WatchedRooms int `json:"watched_rooms"`
}

// Stats returns statistics about the gateway
func (g *Gateway) Stats() Stats {
	return Stats{
		ConnectionStats: g.connections.Stats(),
		ActiveRooms:     g.store.Len(),
		WatchedRooms:    g.sweeper.Len(),
	}
}

// ServeWS upgrades the request and serves the connection until it closes
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, g.config.Connection.SendBufferSize)
	g.connections.register(c)

	go c.writePump(g.config.Connection)
	go c.readPump(g.config.Connection,
		func(raw []byte) { g.handleMessage(c, raw) },
		func() { g.disconnect(c) },
	)

	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
}

// publish emits a lifecycle event. Failures are logged and absorbed.
func (g *Gateway) publish(roomID string, eventType events.Type, payload any) {
	evt, err := events.New(roomID, eventType, g.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build room event")
		return
	}

	ctx := context.Background()
	if g.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.PublishTimeout)
		defer cancel()
	}
	if err := g.publisher.Publish(ctx, evt); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("event_type", string(eventType)).
			Msg("failed to publish room event")
	}
}
