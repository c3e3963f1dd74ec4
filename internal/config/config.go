package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "PASSAGE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "passage.db"
	defaultLogLevel      = "info"
	defaultSessionTTLMin = 30
	defaultProviderAuth  = "https://oauth.vk.com/authorize"
	defaultProviderToken = "https://oauth.vk.com/access_token"
	defaultProviderUsers = "https://api.vk.com/method/users.get"
	defaultAPIVersion    = "5.131"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningKey    string
	SessionTTL           time.Duration
	ProviderClientID     string
	ProviderClientSecret string
	ProviderRedirectURL  string
	ProviderAuthURL      string
	ProviderTokenURL     string
	ProviderProfileURL   string
	ProviderScope        string
	ProviderAPIVersion   string
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
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMin)
	configViper.SetDefault("provider.auth_url", defaultProviderAuth)
	configViper.SetDefault("provider.token_url", defaultProviderToken)
	configViper.SetDefault("provider.profile_url", defaultProviderUsers)
	configViper.SetDefault("provider.scope", "")
	configViper.SetDefault("provider.api_version", defaultAPIVersion)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningKey:    configViper.GetString("session.signing_secret"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		ProviderClientID:     configViper.GetString("provider.client_id"),
		ProviderClientSecret: configViper.GetString("provider.client_secret"),
		ProviderRedirectURL:  configViper.GetString("provider.redirect_url"),
		ProviderAuthURL:      configViper.GetString("provider.auth_url"),
		ProviderTokenURL:     configViper.GetString("provider.token_url"),
		ProviderProfileURL:   configViper.GetString("provider.profile_url"),
		ProviderScope:        configViper.GetString("provider.scope"),
		ProviderAPIVersion:   configViper.GetString("provider.api_version"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ProviderClientID) == "" {
		return fmt.Errorf("provider.client_id is required")
	}
	if strings.TrimSpace(c.ProviderClientSecret) == "" {
		return fmt.Errorf("provider.client_secret is required")
	}
	if strings.TrimSpace(c.ProviderRedirectURL) == "" {
		return fmt.Errorf("provider.redirect_url is required")
	}
	return nil
}
