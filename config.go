package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"pongarena/server/logging"
)

// Config collects every tunable read from the environment.
type Config struct {
	Addr       string
	AuthSecret string
	AuthLeeway time.Duration

	TickInterval   time.Duration
	MatchRetention time.Duration
	PairSweep      time.Duration
	RetireSweep    time.Duration

	Logging logging.Config
}

func defaultAppConfig() Config {
	return Config{
		Addr:           ":4000",
		AuthLeeway:     30 * time.Second,
		TickInterval:   time.Second / 30,
		MatchRetention: time.Minute,
		PairSweep:      time.Second,
		RetireSweep:    15 * time.Second,
		Logging:        logging.DefaultConfig(),
	}
}

// loadConfig reads settings from the environment, falling back to defaults
// for anything unset. AUTH_SECRET has no default on purpose.
func loadConfig() Config {
	cfg := defaultAppConfig()

	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.AuthSecret = os.Getenv("AUTH_SECRET")
	cfg.AuthLeeway = envDuration("AUTH_LEEWAY", cfg.AuthLeeway)

	cfg.TickInterval = envDuration("TICK_INTERVAL", cfg.TickInterval)
	cfg.MatchRetention = envDuration("MATCH_RETENTION", cfg.MatchRetention)
	cfg.PairSweep = envDuration("PAIR_SWEEP_INTERVAL", cfg.PairSweep)
	cfg.RetireSweep = envDuration("RETIRE_SWEEP_INTERVAL", cfg.RetireSweep)

	if sinks := os.Getenv("LOG_SINKS"); sinks != "" {
		cfg.Logging.EnabledSinks = splitList(sinks)
	}
	if severity := os.Getenv("LOG_MIN_SEVERITY"); severity != "" {
		cfg.Logging.MinimumSeverity = logging.ParseSeverity(severity)
	}
	if path := os.Getenv("LOG_JSON_PATH"); path != "" {
		cfg.Logging.JSON.FilePath = path
	}
	if size := os.Getenv("LOG_BUFFER_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil && parsed > 0 {
			cfg.Logging.BufferSize = parsed
		}
	}

	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
