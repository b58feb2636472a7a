package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
azure:
  organization: contoso
  project: web
  pat: dXNlcjp0b2tlbg==
gateway:
  port: 9090
  read_timeout: 45s
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "contoso", cfg.Azure.Organization)
	assert.Equal(t, "7.1", cfg.Azure.APIVersion)
	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, 45*time.Second, cfg.Gateway.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Gateway.WriteTimeout)
	assert.Equal(t, "localhost", cfg.Gateway.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Audit.Enabled)
	assert.Same(t, cfg, Get())
	assert.NoError(t, Validate(cfg))
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"azure":{"organization":"contoso","project":"web"}}`), 0600))

	t.Setenv("RELEASEDASH_AZURE_PROJECT", "api")
	t.Setenv("RELEASEDASH_AZURE_PAT", "c2VjcmV0")
	t.Setenv("RELEASEDASH_NOTIFY_SLACK_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api", cfg.Azure.Project)
	assert.Equal(t, "c2VjcmV0", cfg.Azure.PAT)
	assert.True(t, cfg.Notify.Slack.Enabled)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()

	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			require.NoError(t, Save(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Azure.Organization, loaded.Azure.Organization)
			assert.Equal(t, cfg.Gateway.ReadTimeout, loaded.Gateway.ReadTimeout)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Slack.WebhookURL = "https://hooks.slack.com/services/secret"

	r := cfg.Redacted()
	assert.Equal(t, "********", r.Azure.PAT)
	assert.Equal(t, "", r.Azure.BearerToken)
	assert.Equal(t, "********", r.Notify.Slack.WebhookURL)
	assert.Equal(t, "dXNlcjp0b2tlbg==", cfg.Azure.PAT)
}

func TestMarshalUnknownFormat(t *testing.T) {
	_, err := Marshal(validConfig(), "toml")
	assert.Error(t, err)
}
