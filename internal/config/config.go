package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Config is the full server configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Room      RoomConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	ICE       ICEConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level string
	JSON  bool
}

// RoomConfig controls room lifetime and history compaction
type RoomConfig struct {
	GracePeriod time.Duration
	HighWater   int
	Keep        int
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendQueue       int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
}

type RateLimitConfig struct {
	ChatLimit    int
	ChatWindow   time.Duration
	SignalLimit  int
	SignalWindow time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
}

// ICEConfig selects Twilio network traversal tokens when credentials are
// present, public STUN servers otherwise
type ICEConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	STUNURLs         []string
}

type CORSConfig struct {
	AllowOrigin string
}

// Load reads .env if present, then the environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3000"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getBool("LOG_JSON", false),
		},
		Room: RoomConfig{
			GracePeriod: getDuration("ROOM_GRACE_PERIOD", 5*time.Minute),
			HighWater:   getInt("HISTORY_HIGH_WATER", 50000),
			Keep:        getInt("HISTORY_KEEP", 30000),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			SendQueue:       getInt("WS_SEND_QUEUE", 256),
			MaxMessageSize:  int64(getInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
			WriteWait:       getDuration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:        getDuration("WS_PONG_WAIT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			ChatLimit:    getInt("CHAT_RATE_LIMIT", 20),
			ChatWindow:   getDuration("CHAT_RATE_WINDOW", 10*time.Second),
			SignalLimit:  getInt("SIGNAL_RATE_LIMIT", 200),
			SignalWindow: getDuration("SIGNAL_RATE_WINDOW", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		ICE: ICEConfig{
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			STUNURLs: getList("STUN_URLS", []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			}),
		},
		CORS: CORSConfig{
			AllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		},
	}
}

// Addr returns the listen address for Port, which may be given with or
// without the leading colon
func (c ServerConfig) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// NewLogger builds the root logger from the log settings
func (c LogConfig) NewLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if c.JSON {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration accepts Go durations; a bare number is seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

// getList splits a comma separated value, dropping empty entries
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
