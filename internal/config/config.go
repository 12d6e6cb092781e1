package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port         string
	DatabaseURL  string
	TenantsFile  string
	RedisURL     string
	RedisChannel string
	AMQPURL      string
	AMQPExchange string

	EmailProvider       string
	MessagingProvider   string
	EmailWebhookURL     string
	MessagingWebhookURL string
	WebhookToken        string

	SweepSchedule string
	SweepTimeout  time.Duration

	BackgroundWorkers   int
	BackgroundQueueSize int
	BackgroundTimeout   time.Duration

	RateLimitPerMinute       int
	RateLimitBurst           int
	TenantRateLimitPerMinute int
	TenantRateLimitBurst     int

	PollFallback time.Duration
	PollPush     time.Duration

	AllowedOrigins []string
	LogLevel       slog.Level

	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	schedule, ok := os.LookupEnv("NO_SHOW_SWEEP_SCHEDULE")
	if !ok {
		schedule = "@every 60s"
	}

	return Config{
		Port:         port,
		DatabaseURL:  os.Getenv("DB_DSN"),
		TenantsFile:  os.Getenv("TENANTS_FILE"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisChannel: readString("REDIS_CHANNEL", "waitlist:realtime"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: readString("AMQP_EXCHANGE", "notifications_fanout"),

		EmailProvider:       readString("NOTIFY_EMAIL_PROVIDER", "log"),
		MessagingProvider:   readString("NOTIFY_MESSAGING_PROVIDER", "log"),
		EmailWebhookURL:     os.Getenv("NOTIFY_WEBHOOK_EMAIL_URL"),
		MessagingWebhookURL: os.Getenv("NOTIFY_WEBHOOK_MESSAGING_URL"),
		WebhookToken:        os.Getenv("NOTIFY_WEBHOOK_TOKEN"),

		SweepSchedule: strings.TrimSpace(schedule),
		SweepTimeout:  readDurationSeconds("NO_SHOW_SWEEP_TIMEOUT_SECONDS", 30),

		BackgroundWorkers:   readInt("BACKGROUND_WORKERS", 4),
		BackgroundQueueSize: readInt("BACKGROUND_QUEUE_SIZE", 256),
		BackgroundTimeout:   readDurationSeconds("BACKGROUND_TASK_TIMEOUT_SECONDS", 30),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		TenantRateLimitPerMinute: readInt("TENANT_RATE_LIMIT_PER_MIN", 600),
		TenantRateLimitBurst:     readInt("TENANT_RATE_LIMIT_BURST", 120),

		PollFallback: readDurationSeconds("POLL_FALLBACK_SECONDS", 5),
		PollPush:     readDurationSeconds("POLL_PUSH_SECONDS", 30),

		AllowedOrigins: readList("ALLOWED_ORIGINS"),
		LogLevel:       readLevel("LOG_LEVEL", slog.LevelInfo),

		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:    readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTelSampleRatio: readFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readLevel(key string, fallback slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
