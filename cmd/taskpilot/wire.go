package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/taskpilot/internal/agent"
	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/governance"
	"github.com/rahul/taskpilot/internal/llm"
	"github.com/rahul/taskpilot/internal/normalize"
	"github.com/rahul/taskpilot/internal/observability"
	"github.com/rahul/taskpilot/internal/store"
	"github.com/rahul/taskpilot/internal/tools"
	"github.com/rahul/taskpilot/pkg/config"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	events    *observability.Logger
	metrics   *observability.Metrics
	registry  *tools.Registry
	browser   *tools.BrowserTool
	history   *store.HistoryStore
	scheduler *engine.Scheduler
	assistant *agent.Assistant
}

// buildApp wires tools, policy, engine and, when withLLM is set, the
// planner, verifier and history.
func buildApp(cfg *config.Config, logger *slog.Logger, eventOut io.Writer, withLLM bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		events:  observability.NewLoggerTo(eventOut, cfg.App.EventLog),
		metrics: observability.NewMetrics(nil),
	}
	a.registry = a.buildRegistry()

	policy, err := buildPolicy(cfg.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	guard := governance.NewGuard(a.registry, policy, logger.With("component", "governance"))

	var model llms.Model
	if withLLM {
		name, p := cfg.GetDefaultProvider()
		if name == "" {
			a.Close()
			return nil, fmt.Errorf("no enabled provider found in config; set OPENAI_API_KEY or configure providers")
		}
		model, err = llm.New(llm.Provider{Name: name, APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	opts := []engine.Option{
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithObserver(a.events),
		engine.WithObserver(a.metrics),
		engine.WithObserver(observability.StatusObserver{}),
	}
	if model != nil && cfg.Tools.Normalize {
		opts = append(opts, engine.WithPreprocessor(normalize.NewLLMNormalizer(
			&llm.Logged{Model: model, Logger: a.events, Source: "normalizer"},
			logger.With("component", "normalize"),
		)))
	}
	a.scheduler = engine.NewScheduler(guard, cfg.EngineOptions(), opts...)

	if model == nil {
		return a, nil
	}

	var history agent.HistoryStore
	if cfg.Memory.Type == "sqlite" {
		a.history, err = store.NewHistoryStore(cfg.Memory.Path, cfg.Memory.MaxMessages)
		if err != nil {
			a.Close()
			return nil, err
		}
		history = a.history
	}

	prompts := agent.NewPromptManager(cfg.App.Prompts)
	agentLog := logger.With("component", "agent")
	a.assistant = agent.NewAssistant(
		agent.NewPlanner(&llm.Logged{Model: model, Logger: a.events, Source: "planner"}, a.registry, prompts, agentLog),
		a.scheduler,
		agent.NewVerifier(&llm.Logged{Model: model, Logger: a.events, Source: "verifier"}, prompts, agentLog),
		history,
		a.events,
		agentLog,
	)
	return a, nil
}

func (a *app) buildRegistry() *tools.Registry {
	cfg := a.cfg.Tools
	hc := &http.Client{Timeout: a.cfg.HTTPTimeout()}

	r := tools.NewRegistry()
	r.Register(tools.NewWeatherTool(cfg.Weather.APIKey, cfg.Weather.BaseURL, hc))
	r.Register(tools.NewGitHubTool(cfg.GitHub.APIKey, cfg.GitHub.BaseURL, hc))
	r.Register(tools.NewNewsTool(cfg.News.APIKey, cfg.News.BaseURL, hc))
	r.Register(tools.NewCountriesTool(cfg.Countries.BaseURL, hc))
	r.Register(tools.NewCryptoTool(cfg.Crypto.BaseURL, hc))
	r.Register(tools.NewWikipediaTool(cfg.Wikipedia.BaseURL, hc))
	r.Register(tools.NewScraperTool(hc))

	if search, err := tools.NewSearchTool(cfg.SearchMaxResults); err != nil {
		a.logger.Warn("search tool unavailable", "error", err)
	} else {
		r.Register(search)
	}
	if cfg.Browser.Enabled {
		a.browser = tools.NewBrowserTool(cfg.Browser.Headless)
		r.Register(a.browser)
	}
	return r
}

func buildPolicy(cfg config.PolicyConfig) (*governance.DefaultPolicyEngine, error) {
	p := governance.NewDefaultPolicyEngine()
	for _, t := range cfg.DeniedTools {
		p.DenyTool(t)
	}
	for _, ta := range cfg.DeniedActions {
		tool, action, _ := strings.Cut(ta, ".")
		p.DenyAction(tool, action)
	}
	for _, pattern := range cfg.DeniedArguments {
		if err := p.DenyArguments(pattern); err != nil {
			return nil, fmt.Errorf("invalid denied argument pattern %q: %w", pattern, err)
		}
	}
	return p, nil
}

func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history store", "error", err)
		}
	}
}
