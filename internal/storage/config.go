package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration loaded from the YAML config file.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Ollama struct {
		BaseURL        string `yaml:"base_url"`
		GroupingModel  string `yaml:"grouping_model"`
		CompressModel  string `yaml:"compress_model"`
		SynthesisModel string `yaml:"synthesis_model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"ollama"`

	Profile Profile `yaml:"profile"`

	Discovery struct {
		TimeoutSeconds int `yaml:"timeout_seconds"` // per-source fetch timeout
		ExtractWorkers int `yaml:"extract_workers"`
	} `yaml:"discovery"`

	Extraction struct {
		MinContentLength int    `yaml:"min_content_length"`
		TimeoutSeconds   int    `yaml:"timeout_seconds"`
		RemoteAPIURL     string `yaml:"remote_api_url"` // paid fallback extractor, empty disables
		RemoteAPIKey     string `yaml:"remote_api_key"`
	} `yaml:"extraction"`

	Search struct {
		APIURL string `yaml:"api_url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"search"`

	Dedup struct {
		TitleThreshold       float64            `yaml:"title_threshold"`
		WindowHours          int                `yaml:"window_hours"`
		Weights              map[string]float64 `yaml:"weights"` // per source type
		RecencyHalfLifeHours float64            `yaml:"recency_half_life_hours"` // 0 disables
	} `yaml:"dedup"`

	Synthesis struct {
		ToolBudget         int `yaml:"tool_budget"`
		MaxOverflowRetries int `yaml:"max_overflow_retries"`
	} `yaml:"synthesis"`
}

// Profile describes the single reader the engine curates for. It is consumed
// read-only by the grouping and synthesis prompts.
type Profile struct {
	Background    string   `yaml:"background"`
	Interests     []string `yaml:"interests"`
	Style         string   `yaml:"style"`
	Language      string   `yaml:"language"`
	Timezone      string   `yaml:"timezone"`
	Topics        []string `yaml:"topics"` // explicit standing topics
	SearchQueries []string `yaml:"search_queries"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./newsmith.db"
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.GroupingModel = "llama3"
	cfg.Ollama.CompressModel = "llama3"
	cfg.Ollama.SynthesisModel = "llama3"
	cfg.Ollama.TimeoutSeconds = 300
	cfg.Profile.Language = "English"
	cfg.Discovery.TimeoutSeconds = 30
	cfg.Discovery.ExtractWorkers = 4
	cfg.Extraction.MinContentLength = 300
	cfg.Extraction.TimeoutSeconds = 20
	cfg.Dedup.TitleThreshold = 0.7
	cfg.Dedup.WindowHours = 48
	cfg.Dedup.Weights = map[string]float64{
		"feed":   1.0,
		"ranked": 1.2,
		"search": 0.8,
	}
	cfg.Synthesis.ToolBudget = 4
	cfg.Synthesis.MaxOverflowRetries = 3
	return cfg
}

// LoadConfig reads the YAML config file, layering it over the defaults. A
// missing file is not an error; the defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
