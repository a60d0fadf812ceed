package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grader.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	EventsSubject     string
	JWTSecret         string
	DockerHost        string
	ExecutionTimeout  time.Duration
	CodeRunMemoryMB   int
	CodeRunCPUShares  int
	IOSpecDefaultSize int
	LockTTL           time.Duration
	SpecCacheTTL      time.Duration
	SubmitRateLimit   int
	AllowOrigins      string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.subject", "grader:events")
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("iospec.default_size", 10)
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("spec_cache.ttl", "1h")
	v.SetDefault("submit.rate_limit", 30)

	lockTTL, err := parseDuration(v, "lock.ttl")
	if err != nil {
		return Config{}, err
	}
	specCacheTTL, err := parseDuration(v, "spec_cache.ttl")
	if err != nil {
		return Config{}, err
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		EventsSubject:     v.GetString("events.subject"),
		JWTSecret:         v.GetString("jwt.secret"),
		DockerHost:        v.GetString("docker_host"),
		ExecutionTimeout:  time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:   v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:  v.GetInt("code_run_cpu_shares"),
		IOSpecDefaultSize: v.GetInt("iospec.default_size"),
		LockTTL:           lockTTL,
		SpecCacheTTL:      specCacheTTL,
		SubmitRateLimit:   v.GetInt("submit.rate_limit"),
		AllowOrigins:      v.GetString("cors.allow_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	if cfg.IOSpecDefaultSize <= 0 {
		cfg.IOSpecDefaultSize = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return value, nil
}
