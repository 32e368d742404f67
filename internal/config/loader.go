package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends selectable through ASSISTANT_STORAGE.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config captures the runtime settings of the assistant service.
type Config struct {
	HTTPPort          int           `yaml:"http_port"`
	Storage           string        `yaml:"storage"`
	SQLiteDSN         string        `yaml:"sqlite_dsn"`
	TokenSecret       string        `yaml:"token_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	ResetCodeTTL      time.Duration `yaml:"reset_code_ttl"`
	CookieSecure      bool          `yaml:"cookie_secure"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubjectPrefix string        `yaml:"nats_subject_prefix"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	WorkingHoursStart int           `yaml:"working_hours_start"`
	WorkingHoursEnd   int           `yaml:"working_hours_end"`
	SlotStep          time.Duration `yaml:"slot_step"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		HTTPPort:          8080,
		Storage:           StorageSQLite,
		SQLiteDSN:         "assistant.db",
		TokenTTL:          24 * time.Hour,
		ResetCodeTTL:      15 * time.Minute,
		NATSSubjectPrefix: "assistant",
		LogLevel:          "info",
		LogFormat:         "json",
		WorkingHoursStart: 9,
		WorkingHoursEnd:   17,
		SlotStep:          30 * time.Minute,
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by ASSISTANT_CONFIG_FILE and finally the ASSISTANT_* environment variables.
//
// Every missing or malformed variable is reported in a single error.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("ASSISTANT_CONFIG_FILE")); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config file: %w", err)
		}
		defer file.Close()
		if cfg, err = Parse(file, cfg); err != nil {
			return Config{}, err
		}
	}

	env := envReader{}
	env.integer("ASSISTANT_HTTP_PORT", &cfg.HTTPPort, func(v int) bool { return v > 0 && v <= 65535 })
	env.str("ASSISTANT_STORAGE", &cfg.Storage)
	env.str("ASSISTANT_SQLITE_DSN", &cfg.SQLiteDSN)
	env.str("ASSISTANT_TOKEN_SECRET", &cfg.TokenSecret)
	env.duration("ASSISTANT_TOKEN_TTL", &cfg.TokenTTL)
	env.duration("ASSISTANT_RESET_CODE_TTL", &cfg.ResetCodeTTL)
	env.boolean("ASSISTANT_COOKIE_SECURE", &cfg.CookieSecure)
	env.str("ASSISTANT_REDIS_ADDR", &cfg.RedisAddr)
	env.str("ASSISTANT_REDIS_PASSWORD", &cfg.RedisPassword)
	env.integer("ASSISTANT_REDIS_DB", &cfg.RedisDB, func(v int) bool { return v >= 0 })
	env.str("ASSISTANT_NATS_URL", &cfg.NATSURL)
	env.str("ASSISTANT_NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)
	env.str("ASSISTANT_LOG_LEVEL", &cfg.LogLevel)
	env.str("ASSISTANT_LOG_FORMAT", &cfg.LogFormat)
	env.integer("ASSISTANT_WORKING_HOURS_START", &cfg.WorkingHoursStart, validHour)
	env.integer("ASSISTANT_WORKING_HOURS_END", &cfg.WorkingHoursEnd, validHour)
	env.duration("ASSISTANT_SLOT_STEP", &cfg.SlotStep)

	if len(env.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(env.invalid, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse overlays the YAML document read from r onto base.
func Parse(r io.Reader, base Config) (Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	cfg := base
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.TokenSecret) == "" {
		problems = append(problems, "token secret is required (ASSISTANT_TOKEN_SECRET)")
	} else if len(c.TokenSecret) < 32 {
		problems = append(problems, "token secret must be at least 32 bytes")
	}
	switch c.Storage {
	case StorageSQLite:
		if strings.TrimSpace(c.SQLiteDSN) == "" {
			problems = append(problems, "sqlite dsn is required for sqlite storage")
		}
	case StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage %q", c.Storage))
	}
	if c.TokenTTL <= 0 {
		problems = append(problems, "token ttl must be positive")
	}
	if c.ResetCodeTTL <= 0 {
		problems = append(problems, "reset code ttl must be positive")
	}
	if c.SlotStep <= 0 {
		problems = append(problems, "slot step must be positive")
	}
	if !validHour(c.WorkingHoursStart) || !validHour(c.WorkingHoursEnd) || c.WorkingHoursStart >= c.WorkingHoursEnd {
		problems = append(problems, "working hours must satisfy 0 <= start < end <= 23")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validHour(v int) bool {
	return v >= 0 && v <= 23
}

type envReader struct {
	invalid []string
}

func (e *envReader) str(key string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func (e *envReader) integer(key string, dst *int, ok func(int) bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || (ok != nil && !ok(parsed)) {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = parsed
}

func (e *envReader) duration(key string, dst *time.Duration) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = parsed
}

func (e *envReader) boolean(key string, dst *bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = parsed
}
