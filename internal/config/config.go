package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ServerConfig holds settings for the chat server runtime. Values come
// from CAMPUSCHAT_-prefixed environment variables, optionally seeded
// from a .env file.
type ServerConfig struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabasePath    string        `envconfig:"DB_PATH" default:"campuschat.db"`
	JWT             JWTConfig     `envconfig:"JWT"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"45s"`
	PongTimeout     time.Duration `envconfig:"PONG_TIMEOUT" default:"60s"`
	MaxFrameBytes   int64         `envconfig:"MAX_FRAME_BYTES" default:"65536"`
	HistoryPageSize int           `envconfig:"HISTORY_PAGE_SIZE" default:"50"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL string `envconfig:"SERVER_URL" default:"http://localhost:8080"`
	Username  string `envconfig:"USERNAME"`
	Password  string `envconfig:"PASSWORD"`
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string        `envconfig:"SECRET" default:"replace-me"`
	Issuer     string        `envconfig:"ISSUER" default:"campuschat"`
	Expiration time.Duration `envconfig:"EXPIRATION" default:"24h"`
}

// LoadServer builds the server configuration from the environment.
func LoadServer() (ServerConfig, error) {
	_ = godotenv.Load()
	var cfg ServerConfig
	if err := envconfig.Process("campuschat", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClient builds the client configuration from the environment.
func LoadClient() (ClientConfig, error) {
	_ = godotenv.Load()
	var cfg ClientConfig
	if err := envconfig.Process("campuschat", &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}
