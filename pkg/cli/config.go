package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the base configuration directory name
	DefaultBaseDir = ".eduscribe"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Config is the server configuration, loaded from YAML with
// environment overrides.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen,omitempty"`

	// DataDir is where the key-value store lives. Empty means
	// ~/.eduscribe/data.
	DataDir string `yaml:"data_dir,omitempty"`

	OpenAI   OpenAIConfig   `yaml:"openai,omitempty"`
	Whisper  WhisperConfig  `yaml:"whisper,omitempty"`
	Pipeline PipelineConfig `yaml:"pipeline,omitempty"`
}

// OpenAIConfig holds credentials and model names for chat and
// embeddings.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	ChatModel  string `yaml:"chat_model,omitempty"`
	EmbedModel string `yaml:"embed_model,omitempty"`
}

// WhisperConfig holds the transcription backend settings.
type WhisperConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// PipelineConfig tunes the session processing loop.
type PipelineConfig struct {
	MinImportance        float64 `yaml:"min_importance,omitempty"`
	BufferMin            int     `yaml:"buffer_min,omitempty"`
	SynthesisIntervalSec int     `yaml:"synthesis_interval_sec,omitempty"`
	QueueSize            int     `yaml:"queue_size,omitempty"`
	RetrievalTopK        int     `yaml:"retrieval_top_k,omitempty"`
}

// SynthesisInterval returns the configured interval as a duration,
// zero when unset.
func (p PipelineConfig) SynthesisInterval() time.Duration {
	return time.Duration(p.SynthesisIntervalSec) * time.Second
}

// LoadConfig reads the configuration from path. An empty path uses
// the default location; a missing file yields defaults. Environment
// variables override file values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Listen: ":8080",
		OpenAI: OpenAIConfig{
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Whisper: WhisperConfig{
			Model: "whisper-1",
		},
	}

	if path == "" {
		p, err := NewPaths()
		if err != nil {
			return nil, err
		}
		path = p.ConfigFile()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values from the environment. EDUSCRIBE_*
// variables win over the generic OPENAI_API_KEY.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = v
	}
	for env, dst := range map[string]*string{
		"EDUSCRIBE_LISTEN":          &c.Listen,
		"EDUSCRIBE_DATA_DIR":        &c.DataDir,
		"EDUSCRIBE_OPENAI_API_KEY":  &c.OpenAI.APIKey,
		"EDUSCRIBE_OPENAI_BASE_URL": &c.OpenAI.BaseURL,
		"EDUSCRIBE_CHAT_MODEL":      &c.OpenAI.ChatModel,
		"EDUSCRIBE_EMBED_MODEL":     &c.OpenAI.EmbedModel,
		"EDUSCRIBE_WHISPER_API_KEY": &c.Whisper.APIKey,
		"EDUSCRIBE_WHISPER_URL":     &c.Whisper.BaseURL,
		"EDUSCRIBE_WHISPER_MODEL":   &c.Whisper.Model,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
