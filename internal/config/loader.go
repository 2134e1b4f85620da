package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in cmd.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	DatabaseURL string `json:"database_url" yaml:"database_url" toml:"database_url"`
	RedisURL    string `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
	AMQPURL     string `json:"amqp_url" yaml:"amqp_url" toml:"amqp_url"`
	QueueName   string `json:"queue_name" yaml:"queue_name" toml:"queue_name"`

	// Path to a model registry file; empty uses the built-in registry.
	ModelsFile   string  `json:"models_file" yaml:"models_file" toml:"models_file"`
	VRAMBudgetGB float64 `json:"vram_budget_gb" yaml:"vram_budget_gb" toml:"vram_budget_gb"`

	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`

	GPU GPUConfig `json:"gpu" yaml:"gpu" toml:"gpu"`

	// Cache TTL for job records, e.g. "24h".
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" toml:"cache_ttl"`

	// Browser origins allowed to call the API; empty disables CORS.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// GPUConfig configures the remote inference gateway.
type GPUConfig struct {
	ServerURL     string        `json:"server_url" yaml:"server_url" toml:"server_url"`
	APIKey        string        `json:"api_key" yaml:"api_key" toml:"api_key"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	UploadTimeout time.Duration `json:"upload_timeout" yaml:"upload_timeout" toml:"upload_timeout"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot possibly work. Fields left
// empty are allowed; cmd substitutes defaults or disables the component.
func (c Config) Validate() error {
	if c.VRAMBudgetGB < 0 {
		return fmt.Errorf("vram_budget_gb must not be negative")
	}
	if c.GPU.MaxRetries < 0 {
		return fmt.Errorf("gpu.max_retries must not be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}
