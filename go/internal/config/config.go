package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the process configuration of the poker gateway
type Config struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	FrontendURL     string        `yaml:"frontend_url" validate:"required"` // comma separated allowed origins, or "*"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	Presence  PresenceConfig  `yaml:"presence"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
}

type PresenceConfig struct {
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	SweepInterval         time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	ParticipantTimeout    time.Duration `yaml:"participant_timeout" validate:"gtfield=HeartbeatInterval"`
	RoomSweepInterval     time.Duration `yaml:"room_sweep_interval" validate:"gt=0"`
	RoomInactivityTimeout time.Duration `yaml:"room_inactivity_timeout" validate:"gtfield=ParticipantTimeout"`
}

type WebSocketConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gtfield=PingInterval"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gt=0"`
	MaxMessageSize int64         `yaml:"max_message_size" validate:"min=512"`
	SendBufferSize int           `yaml:"send_buffer_size" validate:"min=1"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// NATSConfig configures event publishing. An empty URL disables NATS and
// events are only logged.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"required"`
}

// Default returns the reference configuration
func Default() Config {
	return Config{
		Port:            3001,
		FrontendURL:     "http://localhost:3000",
		ShutdownTimeout: 10 * time.Second,
		Presence: PresenceConfig{
			HeartbeatInterval:     5 * time.Second,
			SweepInterval:         10 * time.Second,
			ParticipantTimeout:    30 * time.Second,
			RoomSweepInterval:     time.Minute,
			RoomInactivityTimeout: time.Hour,
		},
		WebSocket: WebSocketConfig{
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 16 * 1024,
			SendBufferSize: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			SubjectPrefix: "poker.events",
		},
	}
}

// overrides are the environment variables layered over the file
type overrides struct {
	ConfigPath            *string        `env:"CONFIG_PATH"`
	Port                  *int           `env:"PORT"`
	FrontendURL           *string        `env:"FRONTEND_URL"`
	ShutdownTimeout       *time.Duration `env:"SHUTDOWN_TIMEOUT"`
	HeartbeatInterval     *time.Duration `env:"HEARTBEAT_INTERVAL"`
	SweepInterval         *time.Duration `env:"SWEEP_INTERVAL"`
	ParticipantTimeout    *time.Duration `env:"PARTICIPANT_TIMEOUT"`
	RoomSweepInterval     *time.Duration `env:"ROOM_SWEEP_INTERVAL"`
	RoomInactivityTimeout *time.Duration `env:"ROOM_INACTIVITY_TIMEOUT"`
	WSWriteTimeout        *time.Duration `env:"WS_WRITE_TIMEOUT"`
	WSReadTimeout         *time.Duration `env:"WS_READ_TIMEOUT"`
	WSPingInterval        *time.Duration `env:"WS_PING_INTERVAL"`
	WSMaxMessageSize      *int64         `env:"WS_MAX_MESSAGE_SIZE"`
	WSSendBufferSize      *int           `env:"WS_SEND_BUFFER_SIZE"`
	LogLevel              *string        `env:"LOG_LEVEL"`
	LogFormat             *string        `env:"LOG_FORMAT"`
	NATSURL               *string        `env:"NATS_URL"`
	NATSSubjectPrefix     *string        `env:"NATS_SUBJECT_PREFIX"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CONFIG_PATH when path is empty; no file is fine), then environment
// variables, and validates the result.
func Load(path string) (Config, error) {
	var o overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	cfg := Default()
	if path == "" && o.ConfigPath != nil {
		path = *o.ConfigPath
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	o.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (o overrides) apply(c *Config) {
	set(&c.Port, o.Port)
	set(&c.FrontendURL, o.FrontendURL)
	set(&c.ShutdownTimeout, o.ShutdownTimeout)
	set(&c.Presence.HeartbeatInterval, o.HeartbeatInterval)
	set(&c.Presence.SweepInterval, o.SweepInterval)
	set(&c.Presence.ParticipantTimeout, o.ParticipantTimeout)
	set(&c.Presence.RoomSweepInterval, o.RoomSweepInterval)
	set(&c.Presence.RoomInactivityTimeout, o.RoomInactivityTimeout)
	set(&c.WebSocket.WriteTimeout, o.WSWriteTimeout)
	set(&c.WebSocket.ReadTimeout, o.WSReadTimeout)
	set(&c.WebSocket.PingInterval, o.WSPingInterval)
	set(&c.WebSocket.MaxMessageSize, o.WSMaxMessageSize)
	set(&c.WebSocket.SendBufferSize, o.WSSendBufferSize)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)
	set(&c.NATS.URL, o.NATSURL)
	set(&c.NATS.SubjectPrefix, o.NATSSubjectPrefix)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks every field
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.AllowedOrigins()) == 0 {
		return fmt.Errorf("invalid config: frontend_url has no origins")
	}
	return nil
}

// Addr is the listen address
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AllowedOrigins splits FrontendURL into its origins
func (c Config) AllowedOrigins() []string {
	origins := lo.Map(strings.Split(c.FrontendURL, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(origins)
}
