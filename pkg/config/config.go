package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "sovereign.yaml"

type Config struct {
	App       AppConfig                 `mapstructure:"app" yaml:"app"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Gateways  map[string]GatewayConfig  `mapstructure:"gateways" yaml:"gateways"`
	Memory    MemoryConfig              `mapstructure:"memory" yaml:"memory"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox" yaml:"sandbox"`
	Logging   LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Planner   PlannerConfig             `mapstructure:"planner" yaml:"planner"`
}

type AppConfig struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Workspace string `mapstructure:"workspace" yaml:"workspace"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

type GatewayConfig struct {
	Token         string `mapstructure:"token" yaml:"token,omitempty"`
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	AllowedChatID int64  `mapstructure:"allowed_chat_id" yaml:"allowed_chat_id"`
}

// MemoryConfig locates the SQLite history mirror. Relative paths are
// resolved against the workspace.
type MemoryConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Path string `mapstructure:"path" yaml:"path"`
}

type SandboxConfig struct {
	// Root is the parent directory for sandboxes; empty means the system temp dir.
	Root           string   `mapstructure:"root" yaml:"root"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Shell          string   `mapstructure:"shell" yaml:"shell"`
	DeniedPatterns []string `mapstructure:"denied_patterns" yaml:"denied_patterns"`
	// DeniedHandlers names handlers the executor refuses to dispatch.
	DeniedHandlers []string `mapstructure:"denied_handlers" yaml:"denied_handlers"`
}

type LoggingConfig struct {
	EventsPath string `mapstructure:"events_path" yaml:"events_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	Echo       bool   `mapstructure:"echo" yaml:"echo"`
}

type PlannerConfig struct {
	PromptsDir     string `mapstructure:"prompts_dir" yaml:"prompts_dir"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffSeconds int    `mapstructure:"backoff_seconds" yaml:"backoff_seconds"`
}

// apiKeyEnv maps provider names to the environment variable used when no key
// is configured.
var apiKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnv(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:      "sovereign",
			Workspace: "./agent_workspace",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Model:   "gpt-4o-mini",
				Enabled: true,
			},
			"openrouter": {
				Model:   "openai/gpt-4o-mini",
				BaseURL: "https://openrouter.ai/api/v1",
			},
			"anthropic": {
				Model: "claude-3-5-sonnet-latest",
			},
			"ollama": {
				Model:   "llama3.1",
				BaseURL: "http://localhost:11434",
			},
		},
		Gateways: map[string]GatewayConfig{
			"telegram": {},
		},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: ".sovereign/history.db",
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 30,
			Shell:          "sh",
		},
		Logging: LoggingConfig{
			EventsPath: ".sovereign/events.jsonl",
			MaxSizeMB:  10,
		},
		Planner: PlannerConfig{
			PromptsDir:     "./prompts",
			MaxRetries:     3,
			BackoffSeconds: 1,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.App.Name == "" {
		cfg.App.Name = defaults.App.Name
	}
	if cfg.App.Workspace == "" {
		cfg.App.Workspace = defaults.App.Workspace
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = defaults.Providers
	}
	if cfg.Gateways == nil {
		cfg.Gateways = map[string]GatewayConfig{}
	}
	if cfg.Memory.Type == "" {
		cfg.Memory.Type = defaults.Memory.Type
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = defaults.Memory.Path
	}
	if cfg.Sandbox.TimeoutSeconds <= 0 {
		cfg.Sandbox.TimeoutSeconds = defaults.Sandbox.TimeoutSeconds
	}
	if cfg.Sandbox.Shell == "" {
		cfg.Sandbox.Shell = defaults.Sandbox.Shell
	}
	if cfg.Logging.EventsPath == "" {
		cfg.Logging.EventsPath = defaults.Logging.EventsPath
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = defaults.Logging.MaxSizeMB
	}
	if cfg.Planner.PromptsDir == "" {
		cfg.Planner.PromptsDir = defaults.Planner.PromptsDir
	}
	if cfg.Planner.MaxRetries <= 0 {
		cfg.Planner.MaxRetries = defaults.Planner.MaxRetries
	}
	if cfg.Planner.BackoffSeconds <= 0 {
		cfg.Planner.BackoffSeconds = defaults.Planner.BackoffSeconds
	}
}

func applyEnv(cfg *Config) {
	for name, p := range cfg.Providers {
		env, ok := apiKeyEnv[name]
		if !ok || p.APIKey != "" {
			continue
		}
		if key := os.Getenv(env); key != "" {
			p.APIKey = key
			cfg.Providers[name] = p
		}
	}
	if tg, ok := cfg.Gateways["telegram"]; ok && tg.Token == "" {
		if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
			tg.Token = token
			cfg.Gateways["telegram"] = tg
		}
	}
}

// WriteDefault writes the default config as YAML. It refuses to overwrite.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider in name order.
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

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// ResolvePath anchors a relative path at the workspace.
func ResolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
