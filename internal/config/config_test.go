package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantErr    bool
		wantDomain string
		wantDriver string
	}{
		{
			name:       "Defaults",
			env:        map[string]string{},
			wantDomain: "github.com",
			wantDriver: "sqlite3",
		},
		{
			name: "GitHub Enterprise and postgres",
			env: map[string]string{
				"GITHUB_DOMAIN":   "github.example.com",
				"DATABASE_DRIVER": "postgres",
				"DATABASE_DSN":    "postgres://localhost/feedback?sslmode=disable",
			},
			wantDomain: "github.example.com",
			wantDriver: "postgres",
		},
		{
			name:    "Unknown driver",
			env:     map[string]string{"DATABASE_DRIVER": "mysql"},
			wantErr: true,
		},
		{
			name:    "Non-positive timeout",
			env:     map[string]string{"GITHUB_TIMEOUT": "0s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"GITHUB_TOKEN", "GITHUB_DOMAIN", "GITHUB_TIMEOUT", "DATABASE_DRIVER", "DATABASE_DSN", "NOTIFY_COMMENTS"} {
				t.Setenv(key, "")
				require.NoError(t, os.Unsetenv(key))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			config, err := LoadConfig("")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDomain, config.GitHub.Domain)
			assert.Equal(t, tt.wantDriver, config.Database.Driver)
			assert.Equal(t, 10*time.Second, config.GitHub.Timeout)
			assert.False(t, config.Notify.Comments)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedbacksync.yaml")
	content := "github:\n  timeout: 3s\nnotify:\n  comments: true\nhttp:\n  addr: \":9090\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("HTTP_ADDR"))
	t.Setenv("GITHUB_TIMEOUT", "")
	require.NoError(t, os.Unsetenv("GITHUB_TIMEOUT"))
	t.Setenv("NOTIFY_COMMENTS", "")
	require.NoError(t, os.Unsetenv("NOTIFY_COMMENTS"))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, config.GitHub.Timeout)
	assert.True(t, config.Notify.Comments)
	assert.Equal(t, ":9090", config.HTTP.Addr)
}

func TestValidateGitHubConfig(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		domain  string
		wantErr bool
	}{
		{name: "All fields present", token: "ghp_test", domain: "github.com"},
		{name: "Missing token", token: "", domain: "github.com", wantErr: true},
		{name: "Missing domain", token: "ghp_test", domain: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGitHubConfig(&Config{GitHub: GitHubConfig{Token: tt.token, Domain: tt.domain}})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
