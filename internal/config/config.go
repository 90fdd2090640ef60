package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "PRIMA"
	defaultHTTPAddress      = "127.0.0.1:27271"
	defaultDatabasePath     = "offline.db"
	defaultLogLevel         = "info"
	defaultSyncPageSize     = 100
	defaultProbeTimeoutSecs = 5
)

// AppConfig captures runtime configuration for the local inventory tier.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	RemoteBaseURL     string
	RemoteBearerToken string
	SyncPageSize      int
	ProbeTimeout      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.base_url", "")
	configViper.SetDefault("remote.bearer_token", "")
	configViper.SetDefault("sync.page_size", defaultSyncPageSize)
	configViper.SetDefault("sync.probe_timeout_seconds", defaultProbeTimeoutSecs)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		RemoteBaseURL:     configViper.GetString("remote.base_url"),
		RemoteBearerToken: configViper.GetString("remote.bearer_token"),
		SyncPageSize:      configViper.GetInt("sync.page_size"),
		ProbeTimeout:      time.Duration(configViper.GetInt("sync.probe_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncPageSize < 1 {
		return fmt.Errorf("sync.page_size must be at least 1")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("sync.probe_timeout_seconds must be positive")
	}
	return nil
}
