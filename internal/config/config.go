package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	RulesDir   string             `yaml:"rules_dir"`
	Input      Input              `yaml:"input"`
	Classifier Classifier         `yaml:"classifier"`
	Batch      Batch              `yaml:"batch"`
	Breaker    Breaker            `yaml:"breaker"`
	Profiles   map[string]Profile `yaml:"profiles"`
	Output     Output             `yaml:"output"`
	Server     Server             `yaml:"server"`
	Logging    Logging            `yaml:"logging"`
}

type Input struct {
	Path string `yaml:"path"`
}

type Classifier struct {
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	OllamaURL       string   `yaml:"ollama_url"`
	OpenAIModel     string   `yaml:"openai_model"`
	APIKeyEnv       string   `yaml:"api_key_env"`
	AzureEndpoint   string   `yaml:"azure_endpoint"`
	AzureDeployment string   `yaml:"azure_deployment"`
	AzureAPIVersion string   `yaml:"azure_api_version"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     float64  `yaml:"temperature"`
	Timeout         Duration `yaml:"timeout"`
}

type Batch struct {
	Size              int      `yaml:"size"`
	Delay             Duration `yaml:"delay"`
	Workers           int      `yaml:"workers"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryBackoff      Duration `yaml:"retry_backoff"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

type Breaker struct {
	Enabled      bool     `yaml:"enabled"`
	MinRequests  uint32   `yaml:"min_requests"`
	FailureRatio float64  `yaml:"failure_ratio"`
	OpenTimeout  Duration `yaml:"open_timeout"`
}

// Profile overrides batch settings for an analyze run. Zero fields inherit
// from the batch and classifier sections.
type Profile struct {
	Description string    `yaml:"description"`
	UseLLM      *bool     `yaml:"use_llm"`
	BatchSize   int       `yaml:"batch_size"`
	BatchDelay  *Duration `yaml:"batch_delay"`
	Timeout     *Duration `yaml:"timeout"`
	SampleSize  int       `yaml:"sample_size"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration read from YAML as "30s" or as whole seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if secs, err := strconv.ParseFloat(value.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, value.Value)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// ConfigDir returns the XDG config directory for recipesorter.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "recipesorter")
}

// DataDir returns the XDG data directory for recipesorter.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "recipesorter")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/recipesorter/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'recipesorter init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Input: Input{Path: "extracted_recipes.json"},
		Classifier: Classifier{
			Provider:        "ollama",
			Model:           "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			AzureAPIVersion: "2024-06-01",
			MaxTokens:       800,
			Temperature:     0.1,
			Timeout:         Duration(30 * time.Second),
		},
		Batch: Batch{
			Size:         20,
			Delay:        Duration(2 * time.Second),
			Workers:      1,
			MaxRetries:   2,
			RetryBackoff: Duration(time.Second),
		},
		Breaker: Breaker{
			Enabled:      true,
			MinRequests:  5,
			FailureRatio: 0.5,
			OpenTimeout:  Duration(30 * time.Second),
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Batch.Size <= 0 {
		return nil, fmt.Errorf("batch.size must be positive, got %d", cfg.Batch.Size)
	}
	if cfg.Batch.Workers <= 0 {
		return nil, fmt.Errorf("batch.workers must be positive, got %d", cfg.Batch.Workers)
	}
	if cfg.Breaker.FailureRatio < 0 || cfg.Breaker.FailureRatio > 1 {
		return nil, fmt.Errorf("breaker.failure_ratio must be within 0-1, got %g", cfg.Breaker.FailureRatio)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the result store location inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "recipesorter.db")
}

// GetRulesDir returns the rules directory from config or the XDG default.
func (c *Config) GetRulesDir() string {
	if c.RulesDir != "" {
		return c.RulesDir
	}
	return filepath.Join(ConfigDir(), "rules")
}

// RunSettings is the effective configuration of one analyze run.
type RunSettings struct {
	Profile    string
	UseLLM     bool
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
	SampleSize int
}

// ProfileNames lists the configured profiles.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunSettings layers the named profile over the batch and classifier
// sections. An empty name uses "default" when configured.
func (c *Config) RunSettings(profile string) (RunSettings, error) {
	rs := RunSettings{
		UseLLM:     true,
		BatchSize:  c.Batch.Size,
		BatchDelay: c.Batch.Delay.D(),
		Timeout:    c.Classifier.Timeout.D(),
	}

	name := profile
	if name == "" {
		name = "default"
	}
	p, ok := c.Profiles[name]
	if !ok {
		if profile != "" {
			return rs, fmt.Errorf("unknown profile %q (available: %v)", profile, c.ProfileNames())
		}
		return rs, nil
	}

	rs.Profile = name
	if p.UseLLM != nil {
		rs.UseLLM = *p.UseLLM
	}
	if p.BatchSize > 0 {
		rs.BatchSize = p.BatchSize
	}
	if p.BatchDelay != nil {
		rs.BatchDelay = p.BatchDelay.D()
	}
	if p.Timeout != nil {
		rs.Timeout = p.Timeout.D()
	}
	rs.SampleSize = p.SampleSize
	return rs, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
