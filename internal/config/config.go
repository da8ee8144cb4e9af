package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort  string `yaml:"server_port"`
	CORSOrigin  string `yaml:"cors_origin"`
	StoreDriver string `yaml:"store_driver"`
	DBHost      string `yaml:"db_host"`
	DBPort      string `yaml:"db_port"`
	DBUser      string `yaml:"db_user"`
	DBPassword  string `yaml:"db_password"`
	DBName      string `yaml:"db_name"`
	RedisURL    string `yaml:"redis_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	WS        WSConfig        `yaml:"ws"`
	S3        S3Config        `yaml:"s3"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// SchedulerConfig tunes the scheduled-message sweep. Cron, when set, takes
// precedence over Interval.
type SchedulerConfig struct {
	Interval        Duration `yaml:"interval"`
	Cron            string   `yaml:"cron"`
	DeliveryTimeout Duration `yaml:"delivery_timeout"`
	BatchSize       int      `yaml:"batch_size"`
	LockDriver      string   `yaml:"lock_driver"`
	LockTTL         Duration `yaml:"lock_ttl"`
}

type WSConfig struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventBurst      int     `yaml:"event_burst"`
}

type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	BaseEndpoint string `yaml:"base_endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Duration accepts "10s"-style strings or plain numbers of seconds in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Load builds the config from defaults, an optional .env file, an optional
// YAML file named by CONFIG_FILE and finally environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:  "8080",
		CORSOrigin:  "*",
		StoreDriver: "postgres",
		DBHost:      "localhost",
		DBPort:      "5432",
		DBUser:      "courier",
		DBPassword:  "courier_dev_password",
		DBName:      "courier",
		RedisURL:    "redis://localhost:6379/0",
		JWTSecret:   "dev-secret-change-me",
		LogLevel:    "info",
		LogFormat:   "text",
		Scheduler: SchedulerConfig{
			Interval:        Duration(10 * time.Second),
			DeliveryTimeout: Duration(5 * time.Second),
			BatchSize:       100,
			LockDriver:      "local",
			LockTTL:         Duration(time.Minute),
		},
		WS: WSConfig{
			EventsPerSecond: 20,
			EventBurst:      40,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
	}
}

func loadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.CORSOrigin = getEnv("CORS_ORIGIN", cfg.CORSOrigin)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.Scheduler.Cron = getEnv("SCHEDULER_CRON", cfg.Scheduler.Cron)
	cfg.Scheduler.LockDriver = getEnv("SCHEDULER_LOCK_DRIVER", cfg.Scheduler.LockDriver)

	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("S3_REGION", cfg.S3.Region)
	cfg.S3.BaseEndpoint = getEnv("S3_BASE_ENDPOINT", cfg.S3.BaseEndpoint)
	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.S3.SecretKey)

	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.Model = getEnv("OPENAI_MODEL", cfg.OpenAI.Model)

	durations := []struct {
		key string
		dst *Duration
	}{
		{"SCHEDULER_INTERVAL", &cfg.Scheduler.Interval},
		{"SCHEDULER_DELIVERY_TIMEOUT", &cfg.Scheduler.DeliveryTimeout},
		{"SCHEDULER_LOCK_TTL", &cfg.Scheduler.LockTTL},
	}
	for _, d := range durations {
		val, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := parseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = Duration(parsed)
	}

	if val, ok := os.LookupEnv("SCHEDULER_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("SCHEDULER_BATCH_SIZE: %w", err)
		}
		cfg.Scheduler.BatchSize = n
	}

	if val, ok := os.LookupEnv("WS_EVENTS_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("WS_EVENTS_PER_SECOND: %w", err)
		}
		cfg.WS.EventsPerSecond = f
	}
	if val, ok := os.LookupEnv("WS_EVENT_BURST"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("WS_EVENT_BURST: %w", err)
		}
		cfg.WS.EventBurst = n
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	switch c.Scheduler.LockDriver {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown scheduler lock driver %q", c.Scheduler.LockDriver)
	}
	if c.Scheduler.Cron != "" && !gronx.IsValid(c.Scheduler.Cron) {
		return fmt.Errorf("invalid scheduler cron expression %q", c.Scheduler.Cron)
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if c.Scheduler.DeliveryTimeout <= 0 {
		return fmt.Errorf("scheduler delivery timeout must be positive")
	}
	if c.Scheduler.BatchSize < 0 {
		return fmt.Errorf("scheduler batch size must not be negative")
	}
	if c.Scheduler.LockDriver == "redis" && c.Scheduler.LockTTL <= 0 {
		return fmt.Errorf("scheduler lock ttl must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	return nil
}

// DatabaseURL returns the postgres DSN for pgx.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func parseDuration(raw string) (time.Duration, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
