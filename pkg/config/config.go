package config

import (
	"log"
	"os"
	"time"

	"Lifeline/pkg/cache"
	"Lifeline/pkg/logger"
	"Lifeline/pkg/util"
)

// Config is the flat, env-backed application configuration.
type Config struct {
	Addr     string `env:"ADDR"`
	Mode     string `env:"MODE"`
	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`

	Log   logger.LogConfig
	Cache cache.Config

	JWTSecret string `env:"JWT_SECRET"`

	// Dispatch tuning. Defaults follow the reference behavior: ten-minute
	// emergencies fanned out to responders within 500 km.
	EmergencyTTL time.Duration `env:"EMERGENCY_TTL"`
	FanoutRadius float64       `env:"FANOUT_RADIUS_METERS"`
	AEDCount     int           `env:"AED_COUNT"`
	AEDTimeout   time.Duration `env:"AED_TIMEOUT"`
	AITimeout    time.Duration `env:"AI_TIMEOUT"`

	// External collaborators.
	AEDBaseURL   string `env:"AED_BASE_URL"`
	AEDAPIKey    string `env:"AED_API_KEY"`
	GroqAPIKey   string `env:"GROQ_API_KEY"`
	GroqBaseURL  string `env:"GROQ_BASE_URL"`
	GroqModel    string `env:"GROQ_MODEL"`
	PushBaseURL  string `env:"PUSH_BASE_URL"`
	PushAPIKey   string `env:"PUSH_API_KEY"`
	RateLimit    string `env:"RATE_LIMIT"`
	SweepCron    string `env:"EXPIRY_SWEEP_CRON"`
	MetricsRoute string `env:"METRICS_ROUTE"`
}

var GlobalConfig *Config

func Load() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	GlobalConfig = &Config{
		Addr:     util.GetEnvDefault("ADDR", ":8080"),
		Mode:     util.GetEnvDefault("MODE", "debug"),
		DBDriver: util.GetEnv("DB_DRIVER"),
		DSN:      util.GetEnv("DSN"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Cache: cache.Config{
			Type: util.GetEnvDefault("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:     util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
				Password: util.GetEnv("REDIS_PASSWORD"),
				DB:       int(util.GetIntEnv("REDIS_DB")),
				PoolSize: int(util.GetIntEnvDefault("REDIS_POOL_SIZE", 10)),
			},
			Local: cache.LocalConfig{
				DefaultExpiration: durationEnv("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   durationEnv("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		JWTSecret:    util.GetEnv("JWT_SECRET"),
		EmergencyTTL: durationEnv("EMERGENCY_TTL", 10*time.Minute),
		FanoutRadius: util.GetFloatEnvDefault("FANOUT_RADIUS_METERS", 500000),
		AEDCount:     int(util.GetIntEnvDefault("AED_COUNT", 5)),
		AEDTimeout:   durationEnv("AED_TIMEOUT", 2500*time.Millisecond),
		AITimeout:    durationEnv("AI_TIMEOUT", 6*time.Second),
		AEDBaseURL:   util.GetEnv("AED_BASE_URL"),
		AEDAPIKey:    util.GetEnv("AED_API_KEY"),
		GroqAPIKey:   util.GetEnv("GROQ_API_KEY"),
		GroqBaseURL:  util.GetEnvDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:    util.GetEnvDefault("GROQ_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		PushBaseURL:  util.GetEnv("PUSH_BASE_URL"),
		PushAPIKey:   util.GetEnv("PUSH_API_KEY"),
		RateLimit:    util.GetEnvDefault("RATE_LIMIT", "100-M"),
		SweepCron:    util.GetEnvDefault("EXPIRY_SWEEP_CRON", "@every 1m"),
		MetricsRoute: util.GetEnvDefault("METRICS_ROUTE", "/metrics"),
	}
	return nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := util.GetEnv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
