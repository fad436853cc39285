package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rahul/taskpilot/internal/engine"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways" validate:"dive"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Engine    EngineConfig              `json:"engine" yaml:"engine"`
	Tools     ToolsConfig               `json:"tools" yaml:"tools"`
	Policy    PolicyConfig              `json:"policy" yaml:"policy"`
	HTTP      HTTPConfig                `json:"http" yaml:"http"`
	Log       LogConfig                 `json:"log" yaml:"log"`
}

type AppConfig struct {
	Name string `json:"name" yaml:"name"`
	// Prompts is the directory holding persona and prompt overrides.
	Prompts string `json:"prompts" yaml:"prompts"`
	// EventLog is where LLM exchanges are appended.
	EventLog string `json:"event_log" yaml:"event_log"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token" validate:"required_if=Enabled true"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// GuildID and Prefix only apply to Discord.
	GuildID string `json:"guild_id,omitempty" yaml:"guild_id,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model" validate:"required_if=Enabled true"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type" validate:"omitempty,oneof=sqlite none"`
	Path string `json:"path" yaml:"path"`
	// MaxMessages bounds the stored history of each chat.
	MaxMessages int `json:"max_messages" yaml:"max_messages" validate:"gte=0"`
}

// EngineConfig mirrors engine.Options with plain numbers.
type EngineConfig struct {
	MaxAttempts           int     `json:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelayMS           int     `json:"base_delay_ms" yaml:"base_delay_ms" validate:"gte=0"`
	MaxDelayMS            int     `json:"max_delay_ms" yaml:"max_delay_ms" validate:"gte=0"`
	Multiplier            float64 `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
	Jitter                float64 `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
	AttemptTimeoutSeconds int     `json:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds" validate:"gte=0"`
	TimeoutSeconds        int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=1"`
	MaxConcurrency        int     `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`
}

// EndpointConfig configures one HTTP data source. An empty BaseURL means
// the public default.
type EndpointConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
}

type BrowserConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Headless bool `json:"headless" yaml:"headless"`
}

type ToolsConfig struct {
	HTTPTimeoutSeconds int            `json:"http_timeout_seconds" yaml:"http_timeout_seconds" validate:"gte=1"`
	Weather            EndpointConfig `json:"weather" yaml:"weather"`
	News               EndpointConfig `json:"news" yaml:"news"`
	GitHub             EndpointConfig `json:"github" yaml:"github"`
	Countries          EndpointConfig `json:"countries" yaml:"countries"`
	Crypto             EndpointConfig `json:"crypto" yaml:"crypto"`
	Wikipedia          EndpointConfig `json:"wikipedia" yaml:"wikipedia"`
	SearchMaxResults   int            `json:"search_max_results" yaml:"search_max_results" validate:"gte=0,lte=50"`
	Browser            BrowserConfig  `json:"browser" yaml:"browser"`
	// Normalize enables LLM correction of misspelled city and coin names.
	Normalize bool `json:"normalize" yaml:"normalize"`
}

type PolicyConfig struct {
	DeniedTools []string `json:"denied_tools" yaml:"denied_tools"`
	// DeniedActions entries are "tool.action".
	DeniedActions   []string `json:"denied_actions" yaml:"denied_actions" validate:"dive,contains=."`
	DeniedArguments []string `json:"denied_arguments" yaml:"denied_arguments"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json text"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a JSON or YAML file (by extension), fills defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv is Default plus environment overrides, for running without a file.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "taskpilot"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if c.App.EventLog == "" {
		c.App.EventLog = "logs/llm.jsonl"
	}
	if c.Gateways == nil {
		c.Gateways = make(map[string]GatewayConfig)
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "data/history.db"
	}
	if c.Memory.MaxMessages == 0 {
		c.Memory.MaxMessages = 20
	}

	def := engine.DefaultOptions()
	e := &c.Engine
	if e.MaxAttempts == 0 {
		e.MaxAttempts = def.Retry.MaxAttempts
	}
	if e.BaseDelayMS == 0 {
		e.BaseDelayMS = int(def.Retry.BaseDelay / time.Millisecond)
	}
	if e.MaxDelayMS == 0 {
		e.MaxDelayMS = int(def.Retry.MaxDelay / time.Millisecond)
	}
	if e.Multiplier == 0 {
		e.Multiplier = def.Retry.Multiplier
	}
	if e.AttemptTimeoutSeconds == 0 {
		e.AttemptTimeoutSeconds = int(def.Retry.AttemptTimeout / time.Second)
	}
	if e.TimeoutSeconds == 0 {
		e.TimeoutSeconds = int(def.Timeout / time.Second)
	}

	if c.Tools.HTTPTimeoutSeconds == 0 {
		c.Tools.HTTPTimeoutSeconds = 15
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// applyEnv overrides secrets from the environment. A key for a provider
// that is not configured enables it with a default model.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("OPENAI_API_KEY"); v != "" {
		p, ok := c.Providers["openai"]
		if !ok {
			p = ProviderConfig{Model: "gpt-4o-mini", Enabled: len(c.enabledProviders()) == 0}
		}
		p.APIKey = v
		c.Providers["openai"] = p
	}
	if v := getenv("OPENWEATHERMAP_API_KEY"); v != "" {
		c.Tools.Weather.APIKey = v
	}
	if v := getenv("NEWS_API_KEY"); v != "" {
		c.Tools.News.APIKey = v
	}
	if v := getenv("GITHUB_TOKEN"); v != "" {
		c.Tools.GitHub.APIKey = v
	}
	for name, env := range map[string]string{"telegram": "TELEGRAM_BOT_TOKEN", "discord": "DISCORD_BOT_TOKEN"} {
		if v := getenv(env); v != "" {
			g := c.Gateways[name]
			g.Token = v
			c.Gateways[name] = g
		}
	}
}

func (c *Config) enabledProviders() []string {
	var names []string
	for name, p := range c.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := c.enabledProviders()
	if len(names) == 0 {
		return "", ProviderConfig{}
	}
	return names[0], c.Providers[names[0]]
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}

// EngineOptions converts the engine section.
func (c *Config) EngineOptions() engine.Options {
	e := c.Engine
	return engine.Options{
		Retry: engine.RetryPolicy{
			MaxAttempts:    e.MaxAttempts,
			BaseDelay:      time.Duration(e.BaseDelayMS) * time.Millisecond,
			Multiplier:     e.Multiplier,
			MaxDelay:       time.Duration(e.MaxDelayMS) * time.Millisecond,
			Jitter:         e.Jitter,
			AttemptTimeout: time.Duration(e.AttemptTimeoutSeconds) * time.Second,
		},
		MaxConcurrency: e.MaxConcurrency,
		Timeout:        time.Duration(e.TimeoutSeconds) * time.Second,
	}
}

// HTTPTimeout is the client timeout for tool adapters.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Tools.HTTPTimeoutSeconds) * time.Second
}
