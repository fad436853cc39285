package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_JSON(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	path := writeFile(t, "config.json", `{
		"app": {"name": "pilot"},
		"gateways": {"telegram": {"token": "tg-token", "enabled": true}},
		"providers": {
			"openrouter": {"api_key": "k2", "model": "meta/llama", "base_url": "https://openrouter.ai/api/v1", "enabled": true},
			"openai": {"api_key": "k1", "model": "gpt-4o", "enabled": true}
		},
		"engine": {"max_attempts": 5, "base_delay_ms": 200, "max_concurrency": 4},
		"policy": {"denied_tools": ["browser"], "denied_actions": ["github.get_contributors"]}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pilot", cfg.App.Name)
	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name, "providers are picked by name")
	assert.Equal(t, "gpt-4o", p.Model)

	tg, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	assert.Equal(t, "tg-token", tg.Token)
	_, ok = cfg.GetDiscordConfig()
	assert.False(t, ok)

	opts := cfg.EngineOptions()
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, opts.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, opts.Retry.MaxDelay)
	assert.Equal(t, 20*time.Second, opts.Retry.AttemptTimeout)
	assert.Equal(t, 4, opts.MaxConcurrency)
	assert.Equal(t, 60*time.Second, opts.Timeout)

	assert.Equal(t, "data/history.db", cfg.Memory.Path)
	assert.Equal(t, 20, cfg.Memory.MaxMessages)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, []string{"browser"}, cfg.Policy.DeniedTools)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
providers:
  openai:
    api_key: k
    model: gpt-4o-mini
    enabled: true
gateways:
  discord:
    token: d-token
    enabled: true
    guild_id: "123"
    prefix: "!task"
http:
  enabled: true
  addr: ":9090"
log:
  level: debug
  format: json
tools:
  normalize: true
  weather:
    base_url: http://localhost:9999
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	dc, ok := cfg.GetDiscordConfig()
	require.True(t, ok)
	assert.Equal(t, "!task", dc.Prefix)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Tools.Normalize)
	assert.Equal(t, "http://localhost:9999", cfg.Tools.Weather.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad json", "c.json", `{"app":`},
		{"unknown log level", "c.json", `{"log": {"level": "loud"}}`},
		{"enabled provider without model", "c.json", `{"providers": {"openai": {"api_key": "k", "enabled": true}}}`},
		{"enabled gateway without token", "c.yml", "gateways:\n  telegram:\n    enabled: true\n"},
		{"too many attempts", "c.json", `{"engine": {"max_attempts": 50}}`},
		{"malformed denied action", "c.json", `{"policy": {"denied_actions": ["github"]}}`},
		{"bad base url", "c.json", `{"tools": {"crypto": {"base_url": "not a url"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, env := range []string{"TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY"} {
				t.Setenv(env, "")
			}
			_, err := LoadConfig(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to open config file")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":         "sk-env",
		"OPENWEATHERMAP_API_KEY": "owm",
		"NEWS_API_KEY":           "news",
		"TELEGRAM_BOT_TOKEN":     "tg",
	}
	cfg := Default()
	cfg.Gateways["telegram"] = GatewayConfig{Enabled: true, Token: "from-file"}
	cfg.applyEnv(func(k string) string { return env[k] })

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.Equal(t, "sk-env", p.APIKey)
	assert.Equal(t, "gpt-4o-mini", p.Model)
	assert.Equal(t, "owm", cfg.Tools.Weather.APIKey)
	assert.Equal(t, "news", cfg.Tools.News.APIKey)

	tg, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	assert.Equal(t, "tg", tg.Token, "environment wins over the file")
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_KeepsConfiguredProvider(t *testing.T) {
	cfg := Default()
	cfg.Providers["openrouter"] = ProviderConfig{APIKey: "or", Model: "m", Enabled: true}
	cfg.applyEnv(func(k string) string {
		if k == "OPENAI_API_KEY" {
			return "sk"
		}
		return ""
	})

	assert.False(t, cfg.Providers["openai"].Enabled, "an env key does not override the enabled provider")
	name, _ := cfg.GetDefaultProvider()
	assert.Equal(t, "openrouter", name)
}
