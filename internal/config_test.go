package internal

import (
	"os"
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		DefaultRoom:        "main",
		HeartbeatInterval:  5 * time.Second,
		ClientTimeout:      10 * time.Second,
		WriteTimeout:       5 * time.Second,
		ConnectTimeout:     5 * time.Second,
		PersistenceWorkers: 1,
		PersistenceTimeout: 3 * time.Second,
		MetricInterval:     30 * time.Second,
		RestartInterval:    200 * time.Millisecond,
		ShutdownTimeout:    10 * time.Second,
		CharReplacement:    "*",
	}
}

func TestConfig_Defaults_From_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("BADGER_FILEPATH", "/tmp/badger")
	t.Setenv("BLUGE_FILEPATH", "/tmp/bluge")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("LIMIT_MESSAGES", "50")

	var config Config
	_, err := env.UnmarshalFromEnviron(&config)

	req.NoError(err)
	req.Equal(2*time.Second, config.HeartbeatInterval)
	req.Equal(10*time.Second, config.ClientTimeout)
	req.Equal("main", config.DefaultRoom)
	req.Equal(8080, config.Port)
	req.Equal(lo.ToPtr(50), config.LimitMessages)
	req.NoError(config.Validate())
}

func TestConfig_Requires_Storage_Paths(t *testing.T) {
	req := require.New(t)
	// t.Setenv restores the previous values once the test ends
	t.Setenv("BADGER_FILEPATH", "")
	t.Setenv("BLUGE_FILEPATH", "")
	req.NoError(os.Unsetenv("BADGER_FILEPATH"))
	req.NoError(os.Unsetenv("BLUGE_FILEPATH"))

	var config Config
	_, err := env.UnmarshalFromEnviron(&config)

	req.Error(err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		description string
		modify      func(c *Config)
		wantErr     bool
	}{
		{"Should accept a valid config", func(c *Config) {}, false},
		{"Should reject a zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, true},
		{"Should reject a client timeout not above the heartbeat", func(c *Config) { c.ClientTimeout = c.HeartbeatInterval }, true},
		{"Should reject a negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }, true},
		{"Should reject zero persistence workers", func(c *Config) { c.PersistenceWorkers = 0 }, true},
		{"Should reject a zero message limit", func(c *Config) { c.LimitMessages = lo.ToPtr(0) }, true},
		{"Should reject a blank default room", func(c *Config) { c.DefaultRoom = " " }, true},
		{"Should reject a multi-character replacement", func(c *Config) { c.CharReplacement = "**" }, true},
		{"Should accept a multi-byte replacement rune", func(c *Config) { c.CharReplacement = "█" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			config := validConfig()
			tt.modify(&config)

			err := config.Validate()

			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
			}
		})
	}
}

func TestConfig_Words(t *testing.T) {
	req := require.New(t)

	req.Nil(Config{}.Words())
	req.Equal([]string{"badger", "snake"}, Config{CensoredWords: " badger, ,snake,"}.Words())
}

func TestConfig_Origins(t *testing.T) {
	req := require.New(t)

	req.Nil(Config{}.Origins())
	req.Equal([]string{"app.example.com", "*.example.org"}, Config{AllowedOrigins: "app.example.com, *.example.org ,"}.Origins())
}
