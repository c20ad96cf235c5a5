package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-publisher/internal/queue"
	"github.com/i474232898/weather-publisher/internal/retry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

type AppConfig struct {
	RabbitMQURI   string `validate:"required,url,startswith=amqp"`
	WeatherAPIURL string `validate:"required,http_url"`

	// RetryDelays is the fixed schedule shared by every retried operation.
	RetryDelays retry.Schedule `validate:"min=1,dive,gte=0"`

	BrokerTimeout time.Duration `validate:"gt=0"`
	HTTPTimeout   time.Duration `validate:"gt=0"`

	MainQueue       string `validate:"required,nefield=DeadLetterQueue"`
	DeadLetterQueue string `validate:"required"`

	// RunInterval of 0 runs a single pass and exits.
	RunInterval time.Duration `validate:"gte=0"`

	// Pass history retention, periodic mode only. A max age of 0 keeps
	// summaries until RunHistory evicts them.
	RunHistory       int           `validate:"gte=0"`
	RunHistoryMaxAge time.Duration `validate:"gte=0"`

	Port     string `validate:"required,numeric"`
	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.RabbitMQURI = os.Getenv("RABBITMQ_URI")
	cfg.WeatherAPIURL = os.Getenv("WEATHER_API_URL")

	delays, err := parseDelays(getenvDefault("RETRY_DELAYS", "60s,180s,300s"))
	if err != nil {
		return nil, fmt.Errorf("%w: RETRY_DELAYS: %v", ErrInvalidConfig, err)
	}
	cfg.RetryDelays = delays

	if cfg.BrokerTimeout, err = getenvDuration("BROKER_TIMEOUT", queue.DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunInterval, err = getenvDuration("RUN_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.RunHistoryMaxAge, err = getenvDuration("RUN_HISTORY_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.MainQueue = getenvDefault("MAIN_QUEUE", queue.DefaultMainQueue)
	cfg.DeadLetterQueue = getenvDefault("DLQ_QUEUE", queue.DefaultDeadLetterQueue)
	cfg.RunHistory = getenvInt("RUN_HISTORY", 96)
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Periodic reports whether the process should keep running on a schedule.
func (c *AppConfig) Periodic() bool {
	return c.RunInterval > 0
}

// Topology returns the configured queue pair.
func (c *AppConfig) Topology() queue.Topology {
	return queue.Topology{MainQueue: c.MainQueue, DeadLetterQueue: c.DeadLetterQueue}
}

// parseDelays accepts Go durations ("90s", "3m") or bare seconds ("60").
func parseDelays(s string) (retry.Schedule, error) {
	var schedule retry.Schedule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if secs, err := strconv.Atoi(part); err == nil {
			schedule = append(schedule, time.Duration(secs)*time.Second)
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		schedule = append(schedule, d)
	}
	return schedule, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}
