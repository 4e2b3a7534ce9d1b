package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Platform backend (HTTP collaborators: orders, verification, history).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	AuthToken  string `mapstructure:"AUTH_TOKEN"`
	JWTSecret  string `mapstructure:"JWT_SECRET"`

	// Realtime channel.
	SocketURL             string `mapstructure:"SOCKET_URL"`
	ReconnectBaseDelayMS  int    `mapstructure:"RECONNECT_BASE_DELAY_MS"`
	ReconnectMaxDelaySec  int    `mapstructure:"RECONNECT_MAX_DELAY_SEC"`
	TypingThrottleMS      int    `mapstructure:"TYPING_THROTTLE_MS"`
	TypingIndicatorTTLSec int    `mapstructure:"TYPING_INDICATOR_TTL_SEC"`

	// Call sessions. A zero connect timeout leaves a connecting call waiting
	// until the peer publishes or the user ends it manually.
	ConnectTimeoutSec int `mapstructure:"CONNECT_TIMEOUT_SEC"`

	// Media gateway accepting SDP offers for call/video sessions.
	MediaGatewayURL string `mapstructure:"MEDIA_GATEWAY_URL"`

	// Session snapshot store.
	SessionStore   string `mapstructure:"SESSION_STORE"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisSessionDB int    `mapstructure:"REDIS_SESSION_DB"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("API_BASE_URL", "http://localhost:4000/lawapi")
	viper.SetDefault("AUTH_TOKEN", "")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("SOCKET_URL", "ws://localhost:4000/ws")
	viper.SetDefault("RECONNECT_BASE_DELAY_MS", 500)
	viper.SetDefault("RECONNECT_MAX_DELAY_SEC", 30)
	viper.SetDefault("TYPING_THROTTLE_MS", 1000)
	viper.SetDefault("TYPING_INDICATOR_TTL_SEC", 2)
	viper.SetDefault("CONNECT_TIMEOUT_SEC", 0)
	viper.SetDefault("MEDIA_GATEWAY_URL", "http://localhost:4000/media")
	viper.SetDefault("SESSION_STORE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_SESSION_DB", 0)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// ConnectTimeout returns the configured connecting-phase bound, zero when disabled.
func ConnectTimeout() time.Duration {
	return time.Duration(AppConfig.ConnectTimeoutSec) * time.Second
}

// TypingThrottle returns the minimum interval between outbound typing signals.
func TypingThrottle() time.Duration {
	return time.Duration(AppConfig.TypingThrottleMS) * time.Millisecond
}

// TypingIndicatorTTL returns how long the peer-typing flag stays set without a
// further signal arriving.
func TypingIndicatorTTL() time.Duration {
	return time.Duration(AppConfig.TypingIndicatorTTLSec) * time.Second
}
