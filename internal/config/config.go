package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	GRPCPort    string
	Env         string
	ServiceName string

	DatabaseDSN string
	JWTSecret   string

	AMQPURL        string
	AMQPExchange   string
	AuditExchange  string
	AuditRouteKey  string
	OTLPEndpoint   string
	DebugEndpoints bool

	PollInterval        time.Duration
	RoomPollInterval    time.Duration
	ResubscribeInterval time.Duration
	TypingInterval      time.Duration
	TypingTTL           time.Duration

	PresenceSchedule string
	PresenceTimeout  time.Duration

	SessionIdleTimeout time.Duration

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file, using process environment")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8083"),
		GRPCPort:      getEnv("GRPC_PORT", "9083"),
		Env:           getEnv("APP_ENV", "development"),
		ServiceName:   getEnv("SERVICE_NAME", "chat-sync"),
		DatabaseDSN:   getEnv("DB_DSN", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "chat.rooms"),
		AuditExchange: getEnv("AUDIT_EXCHANGE", "chat.events"),
		AuditRouteKey: getEnv("AUDIT_ROUTING_KEY", "audit.chat"),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		PresenceSchedule: getEnv("PRESENCE_SWEEP_SCHEDULE", "@every 1m"),

		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:   getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
	}

	var errs []error
	cfg.DebugEndpoints, errs = parseBool("DEBUG_ENDPOINTS", false, errs)
	cfg.PollInterval, errs = parseDuration("POLL_INTERVAL", time.Second, errs)
	cfg.RoomPollInterval, errs = parseDuration("ROOM_POLL_INTERVAL", 10*time.Second, errs)
	cfg.ResubscribeInterval, errs = parseDuration("RESUBSCRIBE_INTERVAL", 5*time.Second, errs)
	cfg.TypingInterval, errs = parseDuration("TYPING_INTERVAL", 2*time.Second, errs)
	cfg.TypingTTL, errs = parseDuration("TYPING_TTL", 3*time.Second, errs)
	cfg.PresenceTimeout, errs = parseDuration("PRESENCE_TIMEOUT", 2*time.Minute, errs)
	cfg.SessionIdleTimeout, errs = parseDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute, errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Printf("config: env=%s port=%s db=%s", cfg.Env, cfg.Port, maskDSN(cfg.DatabaseDSN))
	return cfg, nil
}

// Validate reports missing secrets and unusable intervals.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DB_DSN cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	intervals := map[string]time.Duration{
		"POLL_INTERVAL":        c.PollInterval,
		"ROOM_POLL_INTERVAL":   c.RoomPollInterval,
		"RESUBSCRIBE_INTERVAL": c.ResubscribeInterval,
		"TYPING_INTERVAL":      c.TypingInterval,
		"TYPING_TTL":           c.TypingTTL,
		"PRESENCE_TIMEOUT":     c.PresenceTimeout,
		"SESSION_IDLE_TIMEOUT": c.SessionIdleTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration, errs []error) (time.Duration, []error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, errs
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("%s: %w", key, err))
	}
	return d, errs
}

func parseBool(key string, fallback bool, errs []error) (bool, []error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, errs
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, append(errs, fmt.Errorf("%s: %w", key, err))
	}
	return b, errs
}

func maskDSN(dsn string) string {
	_, host, ok := strings.Cut(dsn, "@")
	if !ok {
		return "****"
	}
	return "postgres://****:****@" + host
}
