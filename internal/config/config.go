// Package config provides centralized configuration management for the service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration parameters for the service.
type Config struct {
	GitHub   GitHubConfig
	Database DatabaseConfig
	HTTP     HTTPConfig
	Notify   NotifyConfig
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Token   string
	Domain  string
	Timeout time.Duration
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres"
	Driver string
	DSN    string
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr         string
	MaxBodyBytes int64
}

// NotifyConfig holds the notification fan-out policy.
type NotifyConfig struct {
	// Comments makes comment activity fan out, in addition to state changes
	Comments bool
}

// LoadConfig loads configuration from environment variables and, when
// configFile is non-empty, from that file. Environment wins over the file.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("github.domain", "github.com")
	v.SetDefault("github.timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:feedbacksync.db?_foreign_keys=on")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("notify.comments", false)

	_ = v.BindEnv("github.token", "GITHUB_TOKEN")
	_ = v.BindEnv("github.domain", "GITHUB_DOMAIN")
	_ = v.BindEnv("github.timeout", "GITHUB_TIMEOUT")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("http.addr", "HTTP_ADDR")
	_ = v.BindEnv("http.max_body_bytes", "HTTP_MAX_BODY_BYTES")
	_ = v.BindEnv("notify.comments", "NOTIFY_COMMENTS")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	domain := v.GetString("github.domain")
	if domain == "" {
		domain = "github.com"
	}

	config := &Config{
		GitHub: GitHubConfig{
			Token:   v.GetString("github.token"),
			Domain:  domain,
			Timeout: v.GetDuration("github.timeout"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			DSN:    v.GetString("database.dsn"),
		},
		HTTP: HTTPConfig{
			Addr:         v.GetString("http.addr"),
			MaxBodyBytes: v.GetInt64("http.max_body_bytes"),
		},
		Notify: NotifyConfig{
			Comments: v.GetBool("notify.comments"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig ensures that the values every command needs are usable.
func validateConfig(config *Config) error {
	var problems []string

	switch config.Database.Driver {
	case "sqlite3", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER must be sqlite3 or postgres, got %q", config.Database.Driver))
	}
	if config.Database.DSN == "" {
		problems = append(problems, "DATABASE_DSN is empty")
	}
	if config.GitHub.Timeout <= 0 {
		problems = append(problems, "GITHUB_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateGitHubConfig validates the settings required to call the GitHub API.
func ValidateGitHubConfig(config *Config) error {
	var missingVars []string

	if config.GitHub.Token == "" {
		missingVars = append(missingVars, "GITHUB_TOKEN")
	}
	if config.GitHub.Domain == "" {
		missingVars = append(missingVars, "GITHUB_DOMAIN")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}
