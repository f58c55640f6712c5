package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ServiceSecret string        `mapstructure:"service_secret"`
	ServiceName   string        `mapstructure:"service_name"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PageSize     int           `mapstructure:"page_size"`
	MaxPages     int           `mapstructure:"max_pages"`
}

type AllocationConfig struct {
	PageSize int `mapstructure:"page_size"`
	MaxPages int `mapstructure:"max_pages"`
}

type EmailConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type Config struct {
	DatabaseURL    string           `mapstructure:"database_url"`
	ServerPort     string           `mapstructure:"server_port"`
	LogLevel       string           `mapstructure:"log_level"`
	LogFormat      string           `mapstructure:"log_format"`
	AllowedOrigins []string         `mapstructure:"allowed_origins"`
	Backend        BackendConfig    `mapstructure:"backend"`
	Tracker        TrackerConfig    `mapstructure:"tracker"`
	Allocation     AllocationConfig `mapstructure:"allocation"`
	Email          EmailConfig      `mapstructure:"email"`
}

// Load reads config.yaml from the working directory or ./config, applies
// STOCKFLOW_* environment overrides and exits on invalid configuration.
func Load() *Config {
	v := viper.New()

	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %v", err)
		}
		log.Printf("No config file found, using defaults and environment")
	}

	cfg, err := FromViper(v)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// FromViper applies defaults and environment bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("stockflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"database_url", "backend.base_url", "backend.service_secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return nil, fmt.Errorf("database_url must be set")
	}
	if strings.TrimSpace(config.Backend.BaseURL) == "" {
		return nil, fmt.Errorf("backend.base_url must be set")
	}
	if config.Tracker.PollInterval <= 0 {
		return nil, fmt.Errorf("tracker.poll_interval must be positive")
	}
	if config.Allocation.MaxPages <= 0 {
		return nil, fmt.Errorf("allocation.max_pages must be positive")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("backend.service_name", "stockflow-tracker")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("tracker.poll_interval", 3*time.Second)
	v.SetDefault("tracker.page_size", 100)
	v.SetDefault("tracker.max_pages", 20)

	v.SetDefault("allocation.page_size", 100)
	v.SetDefault("allocation.max_pages", 50)

	v.SetDefault("email.smtp_port", 587)
}
