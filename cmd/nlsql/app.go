package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/agent"
	"github.com/rahul/nlsql/internal/csvsink"
	"github.com/rahul/nlsql/internal/database"
	"github.com/rahul/nlsql/internal/governance"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
	"github.com/rahul/nlsql/pkg/config"
)

// app holds what every command needs: config, logger and a migrated database.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	db       *sql.DB
	sink     *csvsink.Sink
	executor *database.Executor
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(observability.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		LLMLogPath: cfg.Logging.LLMLogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.OpenAndMigrate(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	sink := csvsink.New(cfg.Output.Dir)
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		sink:     sink,
		executor: database.NewExecutor(sink, logger.Zap()),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Zap().Warn("failed to close database", zap.Error(err))
	}
	a.logger.Sync()
}

// runner wires the model, prompts and policy into a question runner.
func (a *app) runner() (*agent.Runner, error) {
	name, provider, llm, err := newModel(a.cfg)
	if err != nil {
		return nil, err
	}

	policy, err := governance.NewPolicyEngine(a.cfg.Governance.DenyTools, a.cfg.Governance.DenyPatterns)
	if err != nil {
		return nil, err
	}

	brain := agent.NewSQLBrain(llm, agent.NewPromptManager(a.cfg.Agent.PromptsDir), policy, a.logger)
	brain.MaxIters = a.cfg.Agent.MaxIters
	brain.ModelName = provider.Model
	if a.cfg.Agent.MaxTokens > 0 {
		brain.CallOptions = append(brain.CallOptions, llms.WithMaxTokens(a.cfg.Agent.MaxTokens))
	}

	a.logger.Zap().Info("agent configured",
		zap.String("provider", name),
		zap.String("model", provider.Model),
		zap.Int("max_iters", brain.MaxIters),
	)
	return agent.NewRunner(a.db, brain, a.executor, a.sink, a.logger), nil
}

// newModel builds the LLM of the default enabled provider.
func newModel(cfg *config.Config) (string, config.ProviderConfig, llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	if name == "" {
		return "", p, nil, errors.New("no enabled provider found in config")
	}

	switch name {
	case "openai", "openrouter":
		if p.APIKey == "" {
			return "", p, nil, fmt.Errorf("provider %s has no api_key (set OPENAI_API_KEY)", name)
		}
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return "", p, nil, err
		}
		return name, p, llm, nil
	default:
		return "", p, nil, fmt.Errorf("provider %s is not supported", name)
	}
}
