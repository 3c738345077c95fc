package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/toolpack"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, session.DefaultAPIURL, cfg.Model.APIURL)
	assert.Equal(t, "gpt-3.5-turbo-1106", cfg.Model.Model)
	assert.Equal(t, "You are a helpful assistant.", cfg.Model.System)
	assert.Equal(t, map[string]interface{}{"temperature": 0.7}, cfg.Model.Params)
	assert.Equal(t, []string{"role", "content", "name"}, cfg.Model.InputFields)
	require.NotNil(t, cfg.Model.SaveMessages)
	assert.True(t, *cfg.Model.SaveMessages)
	assert.Equal(t, 0, cfg.Model.MaxDepth)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, toolpack.DefaultHubURL, cfg.Hub.BaseURL)
	assert.Equal(t, "vand.io", cfg.Hub.Host)
	assert.Equal(t, "vand-", cfg.Hub.PackPrefix)
	assert.Equal(t, "default", cfg.Hub.DefaultPack)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "aiapi.yaml", `
model:
  model: gpt-4
  system: Be brief.
  recent_messages: 4
  save_messages: false
  max_depth: 3
  params:
    temperature: 0
    max_tokens: 100
hub:
  pack_prefix: acme-
server:
  port: 9090
store:
  driver: none
log_level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "gpt-4", cfg.Model.Model)
	assert.Equal(t, "Be brief.", cfg.Model.System)
	assert.Equal(t, 4, cfg.Model.RecentMessages)
	require.NotNil(t, cfg.Model.SaveMessages)
	assert.False(t, *cfg.Model.SaveMessages)
	assert.Equal(t, 3, cfg.Model.MaxDepth)
	assert.EqualValues(t, 0, cfg.Model.Params["temperature"])
	assert.EqualValues(t, 100, cfg.Model.Params["max_tokens"])
	assert.Equal(t, "acme-", cfg.Hub.PackPrefix)
	assert.Equal(t, "vand.io", cfg.Hub.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverNone, cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, session.DefaultAPIURL, cfg.Model.APIURL)
}

func TestLoadConfigMergesDefaultParams(t *testing.T) {
	path := writeFile(t, "aiapi.yaml", `
model:
  params:
    max_tokens: 50
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.EqualValues(t, 50, cfg.Model.Params["max_tokens"])
	assert.EqualValues(t, 0.7, cfg.Model.Params["temperature"])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AIAPI_MODEL_MODEL", "gpt-4o")
	t.Setenv("AIAPI_SERVER_PORT", "7070")
	t.Setenv("AIAPI_HUB_BASE_URL", "http://localhost:9999/api/v1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9999/api/v1", cfg.Hub.BaseURL)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.CodeOf(err))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "model: [unterminated\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.CodeOf(err))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative api url", func(c *Config) { c.Model.APIURL = "/v1/chat" }},
		{"empty model", func(c *Config) { c.Model.Model = "" }},
		{"negative window", func(c *Config) { c.Model.RecentMessages = -1 }},
		{"negative depth", func(c *Config) { c.Model.MaxDepth = -2 }},
		{"bad hub url", func(c *Config) { c.Hub.BaseURL = "vand.io" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.DSN = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.CodeOf(err))
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Model = ""
	cfg.Store.Driver = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.model is required")
	assert.Contains(t, err.Error(), `unknown store.driver "mongo"`)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Model = "gpt-4"
	cfg.Model.SaveMessages = session.Override(false)
	cfg.Store.DSN = "sessions.db"

	path := filepath.Join(t.TempDir(), "aiapi.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", loaded.Model.Model)
	require.NotNil(t, loaded.Model.SaveMessages)
	assert.False(t, *loaded.Model.SaveMessages)
	assert.Equal(t, "sessions.db", loaded.Store.DSN)
	assert.Equal(t, cfg.Model.InputFields, loaded.Model.InputFields)
	assert.EqualValues(t, 0.7, loaded.Model.Params["temperature"])
}

func TestTokenServicePrecedence(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		t.Setenv("AIAPI_TEST_KEY", "sk-env")
		cfg := DefaultConfig()
		cfg.Model.APIKeyEnv = "AIAPI_TEST_KEY"
		assert.Equal(t, "sk-env", cfg.TokenService().Token().Reveal())
	})

	t.Run("inline wins over environment", func(t *testing.T) {
		t.Setenv("AIAPI_TEST_KEY", "sk-env")
		cfg := DefaultConfig()
		cfg.Model.APIKeyEnv = "AIAPI_TEST_KEY"
		cfg.Model.APIKey = "sk-inline"
		assert.Equal(t, "sk-inline", cfg.TokenService().Token().Reveal())
	})

	t.Run("file wins over inline", func(t *testing.T) {
		path := writeFile(t, "key", "sk-file\n")
		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk-inline"
		cfg.Model.APIKeyFile = path

		ts := cfg.TokenService()
		require.NoError(t, ts.Start(context.Background()))
		defer ts.Stop()
		assert.Equal(t, "sk-file", ts.Token().Reveal())
	})
}

func TestSessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.RecentMessages = 6

	opts := cfg.SessionOptions(auth.NewSecret("sk-test"))
	opts.Params["temperature"] = 0.1

	sess := session.New(opts)
	assert.Equal(t, "sk-test", sess.APIKey.Reveal())
	assert.Equal(t, 6, sess.RecentMessages)
	assert.True(t, sess.SaveMessages)
	assert.Equal(t, 0.7, cfg.Model.Params["temperature"])
}

func TestAdapterAndDispatcherConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.MaxDepth = 5
	cfg.Hub.Host = "hub.example"

	ac := cfg.AdapterConfig(nil, nil)
	assert.Equal(t, "hub.example", ac.HubHost)
	assert.Equal(t, "vand-", ac.PackPrefix)
	assert.Equal(t, "default", ac.DefaultPack)

	assert.Equal(t, 5, cfg.DispatcherConfig(nil).MaxDepth)
}
