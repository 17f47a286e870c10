package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NLSQL_DATABASE_PATH.
const EnvPrefix = "NLSQL"

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Agent      AgentConfig               `mapstructure:"agent"`
	Jobs       JobsConfig                `mapstructure:"jobs"`
	Output     OutputConfig              `mapstructure:"output"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Governance GovernanceConfig          `mapstructure:"governance"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	StaticDir      string   `mapstructure:"static_dir"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AgentConfig struct {
	MaxIters   int    `mapstructure:"max_iters"`
	PromptsDir string `mapstructure:"prompts_dir"`
	MaxTokens  int    `mapstructure:"max_tokens"`
}

type JobsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	LLMLogPath string `mapstructure:"llm_log_path"`
}

type GovernanceConfig struct {
	DenyTools    []string `mapstructure:"deny_tools"`
	DenyPatterns []string `mapstructure:"deny_patterns"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoadConfig reads path, or config.{json,yaml,...} from the working directory
// when path is empty, then applies NLSQL_* environment overrides. A missing
// default config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("providers.openai.api_key", EnvPrefix+"_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8000")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("database.path", "nlsql.db")

	v.SetDefault("agent.max_iters", 7)
	v.SetDefault("agent.prompts_dir", "")
	v.SetDefault("agent.max_tokens", 4000)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_size", 64)

	v.SetDefault("output.dir", ".")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.llm_log_path", "logs/llm.jsonl")

	v.SetDefault("governance.deny_tools", []string{})
	v.SetDefault("governance.deny_patterns", []string{`\bdrop\s+table\b`, `\balter\s+table\b`})

	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.base_url", "")
	v.SetDefault("providers.openai.enabled", true)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Agent.MaxIters <= 0 {
		return fmt.Errorf("agent.max_iters must be positive, got %d", c.Agent.MaxIters)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("jobs.queue_size must not be negative, got %d", c.Jobs.QueueSize)
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider, by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}
