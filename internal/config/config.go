package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TOMO"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "tomo.db"
	defaultLogLevel        = "info"
	defaultAccessTTL       = time.Hour
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultRequestTimeout  = 5 * time.Second
	defaultScoringSchedule = "0 0 0 * * *"
	defaultScoringBatch    = 10000
	defaultFirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and the scoring job.
type AppConfig struct {
	HTTPAddress       string
	AllowedOrigins    []string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	LogLevel          string
	SigningSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	FirebaseProjectID string
	FirebaseJWKSURL   string
	RequestTimeout    time.Duration
	ScoringEnabled    bool
	ScoringSchedule   string
	ScoringBatchSize  int
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.access_ttl", defaultAccessTTL)
	configViper.SetDefault("auth.refresh_ttl", defaultRefreshTTL)
	configViper.SetDefault("firebase.jwks_url", defaultFirebaseJWKSURL)
	configViper.SetDefault("request.timeout", defaultRequestTimeout)
	configViper.SetDefault("scoring.enabled", true)
	configViper.SetDefault("scoring.schedule", defaultScoringSchedule)
	configViper.SetDefault("scoring.batch_size", defaultScoringBatch)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		AccessTokenTTL:    configViper.GetDuration("auth.access_ttl"),
		RefreshTokenTTL:   configViper.GetDuration("auth.refresh_ttl"),
		FirebaseProjectID: configViper.GetString("firebase.project_id"),
		FirebaseJWKSURL:   configViper.GetString("firebase.jwks_url"),
		RequestTimeout:    configViper.GetDuration("request.timeout"),
		ScoringEnabled:    configViper.GetBool("scoring.enabled"),
		ScoringSchedule:   configViper.GetString("scoring.schedule"),
		ScoringBatchSize:  configViper.GetInt("scoring.batch_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth token ttl values must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request.timeout must be positive")
	}
	if c.ScoringEnabled && strings.TrimSpace(c.ScoringSchedule) == "" {
		return fmt.Errorf("scoring.schedule is required when scoring is enabled")
	}
	if c.ScoringBatchSize <= 0 {
		return fmt.Errorf("scoring.batch_size must be positive")
	}
	return nil
}
