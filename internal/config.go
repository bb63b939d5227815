package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host      string `env:"HOST,default=localhost"`
	Port      int    `env:"PORT,default=8080"`
	GrpcPort  int    `env:"GRPC_PORT,default=9090"`
	DebugPort int    `env:"DEBUG_PORT,default=8081"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	// ALLOWED_ORIGINS lists the cross-origin hosts allowed on /ws, comma separated.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	DefaultRoom  string `env:"DEFAULT_ROOM,default=main"`
	AnnounceJoin bool   `env:"ANNOUNCE_JOIN,default=false"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	ClientTimeout     time.Duration `env:"CLIENT_TIMEOUT,default=10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT,default=5s"`

	OutboundBufferSize int `env:"OUTBOUND_BUFFER_SIZE,default=256"`
	RegistryBufferSize int `env:"REGISTRY_BUFFER_SIZE,default=1024"`

	PersistenceWorkers   int           `env:"PERSISTENCE_WORKERS,default=2"`
	PersistenceQueueSize int           `env:"PERSISTENCE_QUEUE_SIZE,default=1024"`
	PersistenceTimeout   time.Duration `env:"PERSISTENCE_TIMEOUT,default=3s"`

	RateLimit float64 `env:"RATE_LIMIT,default=0"`
	RateBurst int     `env:"RATE_BURST,default=20"`

	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=30s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Validate checks the relations between values that tags cannot express.
func (c Config) Validate() error {
	intervals := map[string]time.Duration{
		"HEARTBEAT_INTERVAL":  c.HeartbeatInterval,
		"CLIENT_TIMEOUT":      c.ClientTimeout,
		"WRITE_TIMEOUT":       c.WriteTimeout,
		"CONNECT_TIMEOUT":     c.ConnectTimeout,
		"PERSISTENCE_TIMEOUT": c.PersistenceTimeout,
		"METRIC_INTERVAL":     c.MetricInterval,
		"RESTART_INTERVAL":    c.RestartInterval,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ClientTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("CLIENT_TIMEOUT (%s) must be greater than HEARTBEAT_INTERVAL (%s)", c.ClientTimeout, c.HeartbeatInterval)
	}
	if c.PersistenceWorkers < 1 {
		return fmt.Errorf("PERSISTENCE_WORKERS must be at least 1, got %d", c.PersistenceWorkers)
	}
	if c.LimitMessages != nil && *c.LimitMessages < 1 {
		return fmt.Errorf("LIMIT_MESSAGES must be at least 1, got %d", *c.LimitMessages)
	}
	if strings.TrimSpace(c.DefaultRoom) == "" {
		return fmt.Errorf("DEFAULT_ROOM must not be blank")
	}
	if _, err := CharacterRune(c.CharReplacement); err != nil {
		return err
	}
	return nil
}

// Words splits CENSORED_WORDS on commas, dropping blanks.
func (c Config) Words() []string {
	return splitList(c.CensoredWords)
}

// Origins splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
