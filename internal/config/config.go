package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/flood-telemetry/internal/alert"
	"github.com/couchcryptid/flood-telemetry/internal/domain"
	"github.com/couchcryptid/flood-telemetry/internal/window"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Transport.
	SerialPort        string
	TCPBridgeAddr     string
	BaudRate          int
	ReadTimeout       time.Duration
	PollInterval      time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64

	// Parsing and normalization.
	CSVPath             string
	FieldOrder          []string
	FixedMinFields      int
	FieldAliases        map[domain.Field][]string
	AllowNegativePrecip bool
	MaxPrecipPerSample  float64
	MaxFutureSkew       time.Duration

	// Aggregation and alerting.
	Windows          []window.Window
	SeriesMaxSamples int
	Thresholds       alert.Thresholds
	AlertInterval    time.Duration

	// Service.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	SinkTimeout     time.Duration

	// Optional sinks. Empty endpoints disable the sink.
	DatabaseURL   string
	DatabaseTable string
	KafkaBrokers  []string
	KafkaTopic    string
	MQTTBroker    string
	MQTTTopic     string
	MQTTClientID  string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		SerialPort:        sharedcfg.EnvOrDefault("SERIAL_PORT", "AUTO"),
		TCPBridgeAddr:     os.Getenv("TCP_BRIDGE_ADDR"),
		BaudRate:          p.positiveInt("BAUDRATE", 115200),
		ReadTimeout:       p.duration("READ_TIMEOUT", time.Second),
		PollInterval:      p.duration("POLL_INTERVAL", 2*time.Second),
		BackoffInitial:    p.duration("BACKOFF_INITIAL", time.Second),
		BackoffMax:        p.duration("BACKOFF_MAX", 15*time.Second),
		BackoffMultiplier: p.float("BACKOFF_MULTIPLIER", 1.8),

		CSVPath:             sharedcfg.EnvOrDefault("CSV_PATH", "data.csv"),
		FieldOrder:          splitList(sharedcfg.EnvOrDefault("FIELD_ORDER", strings.Join(domain.DefaultFieldOrder, ","))),
		FixedMinFields:      p.positiveInt("FIXED_MIN_FIELDS", 4),
		AllowNegativePrecip: p.bool("ALLOW_NEGATIVE_PRECIP", false),
		MaxPrecipPerSample:  p.float("MAX_PRECIP_PER_SAMPLE", domain.DefaultMaxPrecipPerSample),
		MaxFutureSkew:       p.duration("MAX_FUTURE_SKEW", 5*time.Minute),

		SeriesMaxSamples: p.positiveInt("SERIES_MAX_SAMPLES", window.DefaultMaxSamples),
		Thresholds: alert.Thresholds{
			LevelOrdinal: p.positiveInt("ALERT_LEVEL_ORDINAL", 2),
			RainRateIn:   p.float("ALERT_RAIN_RATE_IN", 0.5),
			RateWindow:   sharedcfg.EnvOrDefault("ALERT_RATE_WINDOW", "1h"),
			Rain24hIn:    p.float("ALERT_RAIN_24H_IN", 2.0),
			TotalWindow:  sharedcfg.EnvOrDefault("ALERT_TOTAL_WINDOW", "24h"),
			TemperatureF: p.float("ALERT_TEMP_F", 95),
			HumidityPct:  p.float("ALERT_HUMIDITY_PCT", 90),
		},
		AlertInterval: p.duration("ALERT_INTERVAL", 30*time.Second),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		SinkTimeout:     p.duration("SINK_TIMEOUT", 5*time.Second),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DatabaseTable: sharedcfg.EnvOrDefault("DATABASE_TABLE", "weather_readings"),
		KafkaBrokers:  parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    sharedcfg.EnvOrDefault("KAFKA_TOPIC", "sensor-readings"),
		MQTTBroker:    os.Getenv("MQTT_BROKER"),
		MQTTTopic:     sharedcfg.EnvOrDefault("MQTT_TOPIC", "flood/alerts"),
		MQTTClientID:  sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "flood-telemetry"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.FieldAliases, err = domain.ParseAliasOverrides(os.Getenv("FIELD_ALIASES")); err != nil {
		return nil, fmt.Errorf("invalid FIELD_ALIASES: %w", err)
	}
	if cfg.Windows, err = window.ParseWindows(sharedcfg.EnvOrDefault("WINDOWS", window.DefaultSpec)); err != nil {
		return nil, fmt.Errorf("invalid WINDOWS: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BackoffMultiplier < 1 {
		return errors.New("BACKOFF_MULTIPLIER must be >= 1")
	}
	if c.BackoffMax < c.BackoffInitial {
		return errors.New("BACKOFF_MAX must be >= BACKOFF_INITIAL")
	}
	if len(c.FieldOrder) == 0 {
		return errors.New("FIELD_ORDER is required")
	}
	if c.FixedMinFields > len(c.FieldOrder) {
		return fmt.Errorf("FIXED_MIN_FIELDS (%d) exceeds the %d FIELD_ORDER columns", c.FixedMinFields, len(c.FieldOrder))
	}
	if c.MaxPrecipPerSample <= 0 {
		return errors.New("MAX_PRECIP_PER_SAMPLE must be positive")
	}
	if _, ok := window.Find(c.Windows, c.Thresholds.RateWindow); !ok {
		return fmt.Errorf("ALERT_RATE_WINDOW %q is not one of WINDOWS", c.Thresholds.RateWindow)
	}
	if _, ok := window.Find(c.Windows, c.Thresholds.TotalWindow); !ok {
		return fmt.Errorf("ALERT_TOTAL_WINDOW %q is not one of WINDOWS", c.Thresholds.TotalWindow)
	}
	if c.CSVPath == "" {
		return errors.New("CSV_PATH is required")
	}
	return nil
}

// Retention is how far back the in-memory series reaches: the longest
// configured window.
func (c *Config) Retention() time.Duration {
	return window.Longest(c.Windows)
}

// parser collects the first parse error so Load can read every variable
// in one pass.
type parser struct {
	err error
}

func (p *parser) fail(key, raw string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.fail(key, raw)
		return def
	}
	return d
}

func (p *parser) positiveInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.fail(key, raw)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return f
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw)
		return def
	}
	return b
}

// parseBrokers returns nil for an unset variable, which disables the Kafka
// sink.
func parseBrokers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(raw)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
