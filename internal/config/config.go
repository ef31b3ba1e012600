// Package config loads trialqa settings from the environment, optionally
// layered over a YAML file named by TRIALQA_CONFIG.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Epistemic-Technology/trialqa/models"
)

// Config is the full runtime configuration.
type Config struct {
	Provider models.ProviderKind `yaml:"provider"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Groq      GroqConfig      `yaml:"groq"`
	ChatPDF   ChatPDFConfig   `yaml:"chatpdf"`
	Backend   BackendConfig   `yaml:"backend"`
	Zotero    ZoteroConfig    `yaml:"zotero"`

	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	// RequestTimeout bounds a whole question pipeline; zero disables it.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type GroqConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type ChatPDFConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type BackendConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type ZoteroConfig struct {
	APIKey    string `yaml:"api_key"`
	LibraryID string `yaml:"library_id"`
}

// Credentials reports which providers have what they need to be called.
type Credentials struct {
	OpenAI    bool
	Anthropic bool
	Groq      bool
	ChatPDF   bool
	Backend   bool
	Zotero    bool
}

// Load reads TRIALQA_CONFIG (if set) and then applies environment overrides.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("TRIALQA_CONFIG"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFile reads a YAML configuration file without consulting the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Provider != "" {
		if _, ok := models.ParseProviderKind(string(cfg.Provider)); !ok {
			return nil, fmt.Errorf("invalid provider in %s: %q", path, cfg.Provider)
		}
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TRIALQA_PROVIDER"); v != "" {
		kind, ok := models.ParseProviderKind(v)
		if !ok {
			return fmt.Errorf("invalid TRIALQA_PROVIDER %q (expected backend, chatpdf, direct or mock)", v)
		}
		c.Provider = kind
	}
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Anthropic.Model, "ANTHROPIC_MODEL")
	setString(&c.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&c.Groq.APIKey, "GROQ_API_KEY")
	setString(&c.Groq.Model, "GROQ_MODEL")
	setString(&c.Groq.BaseURL, "GROQ_BASE_URL")
	setString(&c.ChatPDF.APIKey, "CHATPDF_API_KEY")
	setString(&c.ChatPDF.BaseURL, "CHATPDF_BASE_URL")
	setString(&c.Backend.URL, "TRIALQA_BACKEND_URL")
	setString(&c.Backend.APIKey, "TRIALQA_BACKEND_API_KEY")
	setString(&c.Zotero.APIKey, "ZOTERO_API_KEY")
	setString(&c.Zotero.LibraryID, "ZOTERO_LIBRARY_ID")
	setString(&c.DBPath, "TRIALQA_DB_PATH")
	setString(&c.HTTPAddr, "TRIALQA_HTTP_ADDR")

	if v := os.Getenv("TRIALQA_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("invalid TRIALQA_REQUEST_TIMEOUT %q: %w", v, err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.RequestTimeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = models.ProviderBackend
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
}

// Credentials returns the presence flags used by provider availability checks.
func (c *Config) Credentials() Credentials {
	return Credentials{
		OpenAI:    c.OpenAI.APIKey != "",
		Anthropic: c.Anthropic.APIKey != "",
		Groq:      c.Groq.APIKey != "",
		ChatPDF:   c.ChatPDF.APIKey != "",
		Backend:   c.Backend.URL != "",
		Zotero:    c.Zotero.APIKey != "" && c.Zotero.LibraryID != "",
	}
}

// ResolveDBPath returns DBPath or ~/.trialqa/trialqa.db, creating the directory.
func (c *Config) ResolveDBPath() (string, error) {
	if c.DBPath != "" {
		return c.DBPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dbDir := filepath.Join(homeDir, ".trialqa")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return filepath.Join(dbDir, "trialqa.db"), nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
