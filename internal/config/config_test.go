package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Driver)
	}
	if cfg.Split.ParentSize != 1000 || cfg.Split.ChildSize != 100 {
		t.Errorf("unexpected split defaults: %+v", cfg.Split)
	}
	if cfg.Store.ParentsCollection != "parent_chunks" || cfg.Store.ChildrenCollection != "child_chunks" {
		t.Errorf("unexpected collections: %+v", cfg.Store)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[store]
driver = "postgres"
dsn = "postgres://localhost/chunks"

[split]
parent_size = 800
parent_overlap = 100

[search]
mode = "mmr"
lambda_mult = 0.25

[observer.pricing.my-model]
input = 1.5
output = 2.5
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/chunks" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Split.ParentSize != 800 || cfg.Split.ParentOverlap != 100 {
		t.Errorf("split = %+v", cfg.Split)
	}
	if cfg.Search.Mode != "mmr" || cfg.Search.LambdaMult != 0.25 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if p := cfg.Observer.Pricing["my-model"]; p.Input != 1.5 || p.Output != 2.5 {
		t.Errorf("pricing = %+v", cfg.Observer.Pricing)
	}
	// Defaults preserved
	if cfg.Split.ChildSize != 100 {
		t.Errorf("default should be preserved, got %d", cfg.Split.ChildSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Store.Path != "chunkindex.db" {
		t.Errorf("expected default path, got %s", cfg.Store.Path)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[store\ndriver = "), 0644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CHUNKINDEX_LLM_API_KEY", "env-key")
	t.Setenv("CHUNKINDEX_STORE_DRIVER", "qdrant")
	t.Setenv("CHUNKINDEX_QDRANT_PORT", "7000")
	t.Setenv("CHUNKINDEX_EMBEDDING_DIMENSIONS", "384")
	t.Setenv("CHUNKINDEX_OBSERVER_ENABLED", "1")

	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Store.Driver != "qdrant" || cfg.Store.QdrantPort != 7000 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer should be enabled")
	}
	// Fallback: embedding shares the LLM key when both use the same provider.
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("expected embedding fallback to env-key, got %s", cfg.Embedding.APIKey)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	os.WriteFile(path, []byte("[store]\npath = \"from-file.db\"\n"), 0644)
	t.Setenv("CHUNKINDEX_STORE_PATH", "from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "from-env.db" {
		t.Errorf("expected env to win, got %s", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"same collections", func(c *Config) { c.Store.ChildrenCollection = c.Store.ParentsCollection }, "must differ"},
		{"overlap too large", func(c *Config) { c.Split.ChildOverlap = 100 }, "split.child"},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, "embedding.dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
