// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// Admin API credentials (basic auth; the password is stored as a bcrypt hash)
	AdminUser         string `mapstructure:"adminuser"`
	AdminPasswordHash string `mapstructure:"adminpasswordhash"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Site timezone; daily boundaries and flush target dates are computed here
	Timezone string `mapstructure:"timezone"`

	// Hour of day (site-local) at which the daily flush becomes due
	FlushHour int `mapstructure:"flushhour"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "sitealerts")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("adminuser", "admin")
		v.SetDefault("adminpasswordhash", "")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("timezone", "UTC")
		v.SetDefault("flushhour", 0)
		v.SetDefault("jobintervalseconds", 60)

		// Bind environment variables
		v.BindEnv("appname", "SITEALERTS_APP_NAME")
		v.BindEnv("appport", "SITEALERTS_APP_PORT")
		v.BindEnv("environment", "SITEALERTS_ENV")
		v.BindEnv("loglevel", "SITEALERTS_LOG_LEVEL")
		v.BindEnv("adminuser", "SITEALERTS_ADMIN_USER")
		v.BindEnv("adminpasswordhash", "SITEALERTS_ADMIN_PASSWORD_HASH")
		v.BindEnv("storagepath", "SITEALERTS_STORAGE_PATH")
		v.BindEnv("logsdir", "SITEALERTS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "SITEALERTS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "SITEALERTS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "SITEALERTS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "SITEALERTS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "SITEALERTS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "SITEALERTS_DB_MAX_IDLE_CONNS")
		v.BindEnv("timezone", "SITEALERTS_TIMEZONE")
		v.BindEnv("flushhour", "SITEALERTS_FLUSH_HOUR")
		v.BindEnv("jobintervalseconds", "SITEALERTS_JOB_INTERVAL_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		// In production the admin API must be protected
		if cfg.IsProduction() && cfg.AdminPasswordHash == "" {
			log.Fatal("Production requires SITEALERTS_ADMIN_PASSWORD_HASH (generate one with `sactl hash-password`)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.FlushHour < 0 || c.FlushHour > 23 {
		return fmt.Errorf("invalid flush hour: %d", c.FlushHour)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// Location returns the site-local timezone. The timezone is validated at
// load time, so a failure here falls back to UTC instead of propagating.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements
// cartridge.Config interface). The admin surface is JSON-only, so there is
// no static assets directory.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix returns the URL prefix for static assets (implements
// cartridge.Config interface). Unused: static assets are not enabled.
func (c *Config) GetAssetsPrefix() string {
	return ""
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for stability with shared in-memory databases)
// - Development/Production: 10 (allows concurrent reads for the reporting API)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
