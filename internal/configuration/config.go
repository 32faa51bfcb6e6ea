package configuration

import (
	"Saathi/internal/hub"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	configPathEnv     = "SAATHI_CONFIG"
	defaultConfigPath = "config.dev.json"
)

type MongoConfig struct {
	Uri                string `json:"uri" env:"SAATHI_MONGO_URI" validate:"required"`
	Database           string `json:"database" env:"SAATHI_MONGO_DATABASE" validate:"required"`
	MessagesCollection string `json:"messagesCollection" validate:"required"`
	UsersCollection    string `json:"usersCollection" validate:"required"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port" env:"SAATHI_PORT" validate:"min=1,max=65535"`
	SocketRoute    string   `json:"socketRoute" validate:"required"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwtSecret" env:"SAATHI_JWT_SECRET" validate:"required"`
	TokenTTLHours int    `json:"tokenTTLHours" validate:"gte=0"`
}

// HubConfig mirrors hub.Options; zero values keep the hub defaults.
type HubConfig struct {
	ShardCount       int   `json:"shardCount" validate:"gte=0"`
	SendBufferSize   int   `json:"sendBufferSize" validate:"gte=0"`
	PongWaitSeconds  int   `json:"pongWaitSeconds" env:"SAATHI_PONG_WAIT_SECONDS" validate:"gte=0"`
	WriteWaitSeconds int   `json:"writeWaitSeconds" validate:"gte=0"`
	MaxMessageBytes  int64 `json:"maxMessageBytes" validate:"gte=0"`
	SendTimeoutMs    int   `json:"sendTimeoutMs" validate:"gte=0"`
}

type LogConfig struct {
	Development bool `json:"development" env:"SAATHI_LOG_DEVELOPMENT"`
}

type Config struct {
	Server ServerConfig `json:"server"`
	Mongo  MongoConfig  `json:"mongo"`
	Auth   AuthConfig   `json:"auth"`
	Hub    HubConfig    `json:"hub"`
	Log    LogConfig    `json:"log"`
}

// ConfigPath returns the file named by SAATHI_CONFIG, or the dev default.
func ConfigPath() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return p
	}
	return defaultConfigPath
}

// LoadConfig reads the JSON file, then lets the environment (and a .env file
// if present) override individual values before validating the result.
func LoadConfig(config_path string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", config_path, err)
	}

	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, fmt.Errorf("config env overrides: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c Config) HubOptions() hub.Options {
	return hub.Options{
		ShardCount:     c.Hub.ShardCount,
		SendBufSize:    c.Hub.SendBufferSize,
		PongWait:       time.Duration(c.Hub.PongWaitSeconds) * time.Second,
		WriteWait:      time.Duration(c.Hub.WriteWaitSeconds) * time.Second,
		MaxMessageSize: c.Hub.MaxMessageBytes,
		SendTimeout:    time.Duration(c.Hub.SendTimeoutMs) * time.Millisecond,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}
