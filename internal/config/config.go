// Package config loads process configuration from the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"

	"github.com/matthewbaird/rentroll/internal/logger"
)

//go:embed schema.cue
var schemaSource string

const DefaultDatabaseURL = "file:rentroll.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

type Config struct {
	DatabaseURL string `json:"database_url"`
	Port        int    `json:"port"`

	// Sweep
	SweepSchedule      string        `json:"sweep_schedule"`
	SweepTimeout       time.Duration `json:"sweep_timeout"`
	ReminderDays       []int         `json:"reminder_days"`
	ExpiringWindowDays int           `json:"expiring_window_days"`

	// Redis backs the distributed sweep lock. Empty RedisAddr keeps the lock
	// in process.
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	RedisDB       int           `json:"redis_db"`
	LockTTL       time.Duration `json:"lock_ttl"`

	EventBuffer int `json:"event_buffer"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LogOutput string `json:"log_output"`

	AtlasBin    string `json:"atlas_bin"`
	AtlasDevURL string `json:"atlas_dev_url"`
}

// Load reads the given .env files (".env" when none are named; missing files
// are ignored), then the environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var p parser
	config := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", DefaultDatabaseURL),
		Port:               p.int("PORT", 8080),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "0 6 * * *"),
		SweepTimeout:       p.duration("SWEEP_TIMEOUT", 10*time.Minute),
		ReminderDays:       p.ints("REMINDER_DAYS", "7,1"),
		ExpiringWindowDays: p.int("EXPIRING_WINDOW_DAYS", 30),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            p.int("REDIS_DB", 0),
		LockTTL:            p.duration("LOCK_TTL", 15*time.Minute),
		EventBuffer:        p.int("EVENT_BUFFER", 256),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogOutput:          getEnv("LOG_OUTPUT", "stdout"),
		AtlasBin:           getEnv("ATLAS_BIN", "atlas"),
		AtlasDevURL:        getEnv("ATLAS_DEV_URL", "sqlite://dev?mode=memory"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// validate unifies the config with the #Config definition in schema.cue.
func (c *Config) validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := def.Unify(ctx.Encode(c))
	return val.Validate(cue.Concrete(true))
}

// GetLoggerConfig returns the logging section.
func (c *Config) GetLoggerConfig() logger.LogConfig {
	lc := logger.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	lc.Output = c.LogOutput
	return lc
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	return n
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return defaultValue
	}
	return d
}

func (p *parser) ints(key, defaultValue string) []int {
	raw := getEnv(key, defaultValue)
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %q is not a list of integers", key, raw))
			return nil
		}
		out = append(out, n)
	}
	return out
}
