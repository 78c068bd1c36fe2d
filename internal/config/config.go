// Package config loads chunkindex settings: defaults, then a TOML file, then
// CHUNKINDEX_* environment variables (env wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the config file read when Load gets an empty path.
const DefaultPath = "chunkindex.toml"

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Store     StoreConfig     `toml:"store"`
	Split     SplitConfig     `toml:"split"`
	Ingest    IngestConfig    `toml:"ingest"`
	Search    SearchConfig    `toml:"search"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	// RPM caps embedding requests per minute. Zero disables the limit.
	RPM int `toml:"rpm"`
	// MaxRetries is the number of attempts on 429/503. Zero disables retry.
	MaxRetries int `toml:"max_retries"`
}

type StoreConfig struct {
	Driver             string `toml:"driver"` // sqlite, postgres, qdrant
	Path               string `toml:"path"`
	DSN                string `toml:"dsn"`
	QdrantHost         string `toml:"qdrant_host"`
	QdrantPort         int    `toml:"qdrant_port"`
	QdrantAPIKey       string `toml:"qdrant_api_key"`
	QdrantTLS          bool   `toml:"qdrant_tls"`
	ParentsCollection  string `toml:"parents_collection"`
	ChildrenCollection string `toml:"children_collection"`
}

type SplitConfig struct {
	ParentSize    int `toml:"parent_size"`
	ParentOverlap int `toml:"parent_overlap"`
	ChildSize     int `toml:"child_size"`
	ChildOverlap  int `toml:"child_overlap"`
	BatchSize     int `toml:"batch_size"`
}

type IngestConfig struct {
	Workers       int  `toml:"workers"`
	ReplaceSource bool `toml:"replace_source"`
}

type SearchConfig struct {
	Mode           string  `toml:"mode"`
	K              int     `toml:"k"`
	FetchK         int     `toml:"fetch_k"`
	LambdaMult     float32 `toml:"lambda_mult"`
	ScoreThreshold float32 `toml:"score_threshold"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536, MaxRetries: 3},
		Store: StoreConfig{
			Driver:             "sqlite",
			Path:               "chunkindex.db",
			QdrantHost:         "localhost",
			QdrantPort:         6334,
			ParentsCollection:  "parent_chunks",
			ChildrenCollection: "child_chunks",
		},
		Split:  SplitConfig{ParentSize: 1000, ParentOverlap: 200, ChildSize: 100, ChildOverlap: 20, BatchSize: 64},
		Ingest: IngestConfig{Workers: 4, ReplaceSource: true},
		Search: SearchConfig{Mode: "similarity", K: 4, FetchK: 20, LambdaMult: 0.5, ScoreThreshold: 0.8},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)

	// Fallbacks
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = v
		}
	}

	str("CHUNKINDEX_LLM_PROVIDER", &cfg.LLM.Provider)
	str("CHUNKINDEX_LLM_MODEL", &cfg.LLM.Model)
	str("CHUNKINDEX_LLM_API_KEY", &cfg.LLM.APIKey)
	str("CHUNKINDEX_LLM_BASE_URL", &cfg.LLM.BaseURL)

	str("CHUNKINDEX_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("CHUNKINDEX_EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("CHUNKINDEX_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("CHUNKINDEX_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	num("CHUNKINDEX_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)

	str("CHUNKINDEX_STORE_DRIVER", &cfg.Store.Driver)
	str("CHUNKINDEX_STORE_PATH", &cfg.Store.Path)
	str("CHUNKINDEX_STORE_DSN", &cfg.Store.DSN)
	str("CHUNKINDEX_QDRANT_HOST", &cfg.Store.QdrantHost)
	num("CHUNKINDEX_QDRANT_PORT", &cfg.Store.QdrantPort)
	str("CHUNKINDEX_QDRANT_API_KEY", &cfg.Store.QdrantAPIKey)

	if v := os.Getenv("CHUNKINDEX_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
}

// Validate reports settings no component could work with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	case "qdrant":
		if c.Store.QdrantHost == "" {
			errs = append(errs, errors.New("store.qdrant_host is required for qdrant"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, qdrant", c.Store.Driver))
	}
	if c.Store.ParentsCollection == "" || c.Store.ChildrenCollection == "" {
		errs = append(errs, errors.New("store collection names must not be empty"))
	} else if c.Store.ParentsCollection == c.Store.ChildrenCollection {
		errs = append(errs, errors.New("store parents and children collections must differ"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if err := checkWindow("split.parent", c.Split.ParentSize, c.Split.ParentOverlap); err != nil {
		errs = append(errs, err)
	}
	if err := checkWindow("split.child", c.Split.ChildSize, c.Split.ChildOverlap); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func checkWindow(name string, size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("%s: need size > 0 and 0 <= overlap < size, got %d/%d", name, size, overlap)
	}
	return nil
}
