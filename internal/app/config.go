package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPAddr is fixed; the browser client connects to this port
const HTTPAddr = ":3000"

type Config struct {
	Env       string
	HTTPAddr  string
	CORSAllow []string

	ExecutorURL           string
	ExecutorTimeout       time.Duration
	ExecutorMaxConcurrent int

	StoreURL       string // redis://host:6379/0, sqlite://path/to.db or memory://
	StoreKeyPrefix string
	StoreTimeout   time.Duration

	ShutdownTimeout time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("CORS_ALLOW", "*")
	v.SetDefault("EXECUTOR_URL", "http://localhost:8080")
	v.SetDefault("EXECUTOR_TIMEOUT", "15s")
	v.SetDefault("EXECUTOR_MAX_CONCURRENT", 8)
	v.SetDefault("STORE_URL", "redis://localhost:6379/0")
	v.SetDefault("STORE_KEY_PREFIX", "")
	v.SetDefault("STORE_TIMEOUT", "2s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
}

// LoadConfig reads settings from the environment on top of the defaults
func LoadConfig() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := Config{
		Env:                   v.GetString("APP_ENV"),
		HTTPAddr:              HTTPAddr,
		CORSAllow:             splitCSV(v.GetString("CORS_ALLOW")),
		ExecutorURL:           v.GetString("EXECUTOR_URL"),
		ExecutorTimeout:       v.GetDuration("EXECUTOR_TIMEOUT"),
		ExecutorMaxConcurrent: v.GetInt("EXECUTOR_MAX_CONCURRENT"),
		StoreURL:              v.GetString("STORE_URL"),
		StoreKeyPrefix:        v.GetString("STORE_KEY_PREFIX"),
		StoreTimeout:          v.GetDuration("STORE_TIMEOUT"),
		ShutdownTimeout:       v.GetDuration("SHUTDOWN_TIMEOUT"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Unparseable durations come back from viper as zero, so zero is rejected too
func (c Config) validate() error {
	durations := map[string]time.Duration{
		"EXECUTOR_TIMEOUT": c.ExecutorTimeout,
		"STORE_TIMEOUT":    c.StoreTimeout,
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration", name)
		}
	}
	if c.ExecutorMaxConcurrent < 1 {
		return fmt.Errorf("config: EXECUTOR_MAX_CONCURRENT must be at least 1")
	}
	if c.ExecutorURL == "" {
		return fmt.Errorf("config: EXECUTOR_URL is required")
	}
	return nil
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
