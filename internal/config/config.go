package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	Provider   string `yaml:"provider"` // azure, openai, ollama, gemini
	Model      string `yaml:"model"`    // model name, or deployment name for azure
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
	Dimension  int    `yaml:"dimension"`
}

type IndexConfig struct {
	Backend      string `yaml:"backend"` // sqlite, pgvector
	Path         string `yaml:"path"`
	PostgresDSN  string `yaml:"postgres_dsn"`
	Table        string `yaml:"table"`
	Metric       string `yaml:"metric"`
	Splitter     string `yaml:"splitter"` // window, recursive
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	BatchSize    int    `yaml:"batch_size"`
}

type Config struct {
	Project struct {
		Name       string   `yaml:"name"`
		RepoURL    string   `yaml:"repo_url"`
		Root       string   `yaml:"root"`
		Extensions []string `yaml:"extensions"`
		Filenames  []string `yaml:"filenames"`
	} `yaml:"project"`
	Index IndexConfig `yaml:"index"`
	AI struct {
		Embedding       ProviderConfig `yaml:"embedding"`
		Inference       ProviderConfig `yaml:"inference"`
		Timeout         time.Duration  `yaml:"timeout"`
		MaxContextChars int            `yaml:"max_context_chars"`
	} `yaml:"ai"`
	Cluster struct {
		Kubeconfig    string        `yaml:"kubeconfig"`
		Namespace     string        `yaml:"namespace"`
		LabelSelector string        `yaml:"label_selector"`
		Container     string        `yaml:"container"`
		TailLines     int64         `yaml:"tail_lines"`
		SourceOrder   string        `yaml:"source_order"` // name, api
		LogTimeout    time.Duration `yaml:"log_timeout"`
	} `yaml:"cluster"`
	Logs struct {
		Keywords []string `yaml:"keywords"`
		Count    int      `yaml:"count"`
	} `yaml:"logs"`
	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	var cfg Config
	cfg.Project.Name = "Petclinic"
	cfg.Project.Root = "./ai-eks-petclinic-app"
	cfg.Project.Extensions = []string{".java", ".py", ".yaml", ".yml", ".xml", ".properties"}
	cfg.Project.Filenames = []string{"Dockerfile"}
	cfg.Index.Backend = "sqlite"
	cfg.Index.Path = "./vector_db/index.db"
	cfg.Index.Table = "rca_chunks"
	cfg.Index.Metric = "cosine"
	cfg.Index.Splitter = "window"
	cfg.Index.ChunkSize = 1000
	cfg.Index.ChunkOverlap = 200
	cfg.Index.BatchSize = 64
	cfg.AI.Embedding.Provider = "azure"
	cfg.AI.Inference.Provider = "azure"
	cfg.AI.Timeout = 60 * time.Second
	cfg.Cluster.Namespace = "petclinic"
	cfg.Cluster.SourceOrder = "name"
	cfg.Cluster.LogTimeout = 30 * time.Second
	cfg.Logs.Keywords = []string{"ERROR", "Exception", "Traceback"}
	cfg.Logs.Count = 2
	cfg.Retrieval.TopK = 3
	return &cfg
}

// LoadConfig reads .env, then the YAML file at path (if present), then applies
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// 3. Override with Environment Variables if present
	cfg.applyEnv(os.LookupEnv)

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}

	set(&c.AI.Embedding.Provider, "ROOTCAUSE_EMBEDDING_PROVIDER")
	set(&c.AI.Inference.Provider, "ROOTCAUSE_INFERENCE_PROVIDER")
	set(&c.AI.Embedding.APIKey, "ROOTCAUSE_API_KEY", "AZURE_OPENAI_API_KEY")
	set(&c.AI.Inference.APIKey, "ROOTCAUSE_API_KEY", "AZURE_OPENAI_API_KEY")
	set(&c.AI.Embedding.BaseURL, "AZURE_OPENAI_ENDPOINT")
	set(&c.AI.Inference.BaseURL, "AZURE_OPENAI_ENDPOINT")
	set(&c.AI.Embedding.Model, "AZURE_EMBEDDING_DEPLOYMENT")
	set(&c.AI.Embedding.APIVersion, "AZURE_EMBEDDING_API_VERSION")
	set(&c.AI.Inference.Model, "AZURE_GPT_DEPLOYMENT")
	set(&c.AI.Inference.APIVersion, "AZURE_GPT_API_VERSION")
	set(&c.Cluster.Kubeconfig, "KUBECONFIG_PATH")
	set(&c.Cluster.Namespace, "ROOTCAUSE_NAMESPACE")
	set(&c.Index.PostgresDSN, "ROOTCAUSE_POSTGRES_DSN")
}

// ValidateIndex checks the settings needed to build or read the index.
func (c *Config) ValidateIndex() error {
	var missing []string
	missing = append(missing, c.Index.missing()...)
	missing = append(missing, c.AI.Embedding.missing("ai.embedding")...)
	if c.Index.ChunkSize <= 0 {
		missing = append(missing, "index.chunk_size (must be > 0)")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		missing = append(missing, "index.chunk_overlap (must be >= 0 and < chunk_size)")
	}
	if c.Index.BatchSize <= 0 {
		missing = append(missing, "index.batch_size (must be > 0)")
	}
	switch c.Index.Splitter {
	case "window", "recursive":
	default:
		missing = append(missing, "index.splitter (window or recursive)")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Keys: missing}
	}
	return nil
}

// ValidateAnalyze checks the settings needed to serve an RCA request.
func (c *Config) ValidateAnalyze() error {
	var missing []string
	missing = append(missing, c.Index.missing()...)
	missing = append(missing, c.AI.Embedding.missing("ai.embedding")...)
	missing = append(missing, c.AI.Inference.missing("ai.inference")...)
	if strings.TrimSpace(c.Cluster.Namespace) == "" {
		missing = append(missing, "cluster.namespace")
	}
	switch c.Cluster.SourceOrder {
	case "name", "api":
	default:
		missing = append(missing, "cluster.source_order (name or api)")
	}
	if len(c.Logs.Keywords) == 0 {
		missing = append(missing, "logs.keywords")
	}
	if c.Logs.Count <= 0 {
		missing = append(missing, "logs.count (must be > 0)")
	}
	if c.Retrieval.TopK <= 0 {
		missing = append(missing, "retrieval.top_k (must be > 0)")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Keys: missing}
	}
	return nil
}

func (ix IndexConfig) missing() []string {
	var out []string
	switch ix.Backend {
	case "sqlite":
		if strings.TrimSpace(ix.Path) == "" {
			out = append(out, "index.path")
		}
	case "pgvector":
		if strings.TrimSpace(ix.PostgresDSN) == "" {
			out = append(out, "index.postgres_dsn")
		}
		if strings.TrimSpace(ix.Table) == "" {
			out = append(out, "index.table")
		}
	default:
		out = append(out, "index.backend (sqlite or pgvector)")
	}
	switch ix.Metric {
	case "cosine", "inner_product":
	default:
		out = append(out, "index.metric (cosine or inner_product)")
	}
	return out
}

func (p ProviderConfig) missing(prefix string) []string {
	var out []string
	need := func(v, key string) {
		if strings.TrimSpace(v) == "" {
			out = append(out, prefix+"."+key)
		}
	}
	switch strings.ToLower(p.Provider) {
	case "azure":
		need(p.APIKey, "api_key")
		need(p.BaseURL, "base_url")
		need(p.Model, "model")
		need(p.APIVersion, "api_version")
	case "openai", "gemini":
		need(p.APIKey, "api_key")
		need(p.Model, "model")
	case "ollama":
		need(p.Model, "model")
	default:
		out = append(out, prefix+".provider (azure, openai, ollama or gemini)")
	}
	return out
}
