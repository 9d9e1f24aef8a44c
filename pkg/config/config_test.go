package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/panbanda/embargo/pkg/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if !cfg.Core.EnableCrossLanguage {
		t.Error("Core.EnableCrossLanguage should be true by default")
	}
	if got, err := cfg.Core.MinConfidence(); err != nil || got != models.ConfidenceLow {
		t.Errorf("Core.MinConfidence() = %v, %v; want low", got, err)
	}
	if len(cfg.Core.Languages) != 0 {
		t.Errorf("Core.Languages = %v, want empty (all languages)", cfg.Core.Languages)
	}

	if cfg.Analysis.Workers != 0 {
		t.Errorf("Analysis.Workers = %d, want 0", cfg.Analysis.Workers)
	}
	if cfg.Analysis.Deadline != 0 {
		t.Errorf("Analysis.Deadline = %v, want 0", cfg.Analysis.Deadline)
	}

	if !cfg.Exclude.Gitignore {
		t.Error("Exclude.Gitignore should be true by default")
	}

	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled should be true by default")
	}

	if cfg.Hot.TopPercent != 0 || len(cfg.Hot.Hints) != 0 || cfg.Hot.HintsFile != "" {
		t.Errorf("Hot = %+v, want no hot signal by default", cfg.Hot)
	}
	if cfg.Cache.Backend != "file" {
		t.Errorf("Cache.Backend = %s, want file", cfg.Cache.Backend)
	}
	if cfg.Cache.MaxMemoryEntries != 1000 {
		t.Errorf("Cache.MaxMemoryEntries = %d, want 1000", cfg.Cache.MaxMemoryEntries)
	}

	if cfg.Output.Format != "text" {
		t.Errorf("Output.Format = %s, want text", cfg.Output.Format)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "embargo.toml")

	content := `
[core]
enable_cross_language = false
min_cross_language_confidence = "high"
languages = ["python", "go"]

[analysis]
workers = 4
deadline = "1m30s"

[cache]
backend = "badger"

[[parsers]]
language = "kotlin"
command = "kt-embargo"
args = ["--json"]
extensions = [".kt", ".kts"]

[output]
format = "json"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Core.EnableCrossLanguage {
		t.Error("Core.EnableCrossLanguage should be false")
	}
	if cfg.Core.MinCrossLanguageConfidence != "high" {
		t.Errorf("Core.MinCrossLanguageConfidence = %s, want high", cfg.Core.MinCrossLanguageConfidence)
	}
	if len(cfg.Core.Languages) != 2 {
		t.Errorf("Core.Languages = %v, want 2 entries", cfg.Core.Languages)
	}
	if cfg.Analysis.Workers != 4 {
		t.Errorf("Analysis.Workers = %d, want 4", cfg.Analysis.Workers)
	}
	if cfg.Analysis.Deadline != 90*time.Second {
		t.Errorf("Analysis.Deadline = %v, want 1m30s", cfg.Analysis.Deadline)
	}
	if cfg.Cache.Backend != "badger" {
		t.Errorf("Cache.Backend = %s, want badger", cfg.Cache.Backend)
	}
	if !cfg.Cache.Enabled {
		t.Error("Cache.Enabled should keep its default")
	}
	if len(cfg.Parsers) != 1 || cfg.Parsers[0].Command != "kt-embargo" || len(cfg.Parsers[0].Extensions) != 2 {
		t.Errorf("Parsers = %+v", cfg.Parsers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "embargo.yaml")

	content := `
core:
  min_cross_language_confidence: medium
hot:
  hints:
    - handle_request
  top_percent: 10
output:
  format: markdown
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Core.MinCrossLanguageConfidence != "medium" {
		t.Errorf("Core.MinCrossLanguageConfidence = %s, want medium", cfg.Core.MinCrossLanguageConfidence)
	}
	if len(cfg.Hot.Hints) != 1 || cfg.Hot.Hints[0] != "handle_request" {
		t.Errorf("Hot.Hints = %v", cfg.Hot.Hints)
	}
	if cfg.Hot.TopPercent != 10 {
		t.Errorf("Hot.TopPercent = %v, want 10", cfg.Hot.TopPercent)
	}
	if cfg.Output.Format != "markdown" {
		t.Errorf("Output.Format = %s, want markdown", cfg.Output.Format)
	}
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "embargo.json")

	content := `{
  "cache": {
    "enabled": false,
    "ttl": 12
  },
  "output": {
    "format": "toon"
  }
}`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled should be false")
	}
	if cfg.Cache.TTL != 12 {
		t.Errorf("Cache.TTL = %d, want 12", cfg.Cache.TTL)
	}
	if cfg.Output.Format != "toon" {
		t.Errorf("Output.Format = %s, want toon", cfg.Output.Format)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/embargo.toml")
	if err == nil {
		t.Error("Load() should return error for non-existent file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "embargo.toml")

	content := `[core
invalid toml`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(*Config) {}, true},
		{"exact threshold", func(c *Config) { c.Core.MinCrossLanguageConfidence = "EXACT" }, true},
		{"unknown threshold", func(c *Config) { c.Core.MinCrossLanguageConfidence = "certain" }, false},
		{"empty threshold", func(c *Config) { c.Core.MinCrossLanguageConfidence = "" }, false},
		{"negative workers", func(c *Config) { c.Analysis.Workers = -1 }, false},
		{"negative deadline", func(c *Config) { c.Analysis.Deadline = -time.Second }, false},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, false},
		{"memory backend without dir", func(c *Config) { c.Cache.Backend = "memory"; c.Cache.Dir = "" }, true},
		{"file backend without dir", func(c *Config) { c.Cache.Dir = "" }, false},
		{"top percent over 100", func(c *Config) { c.Hot.TopPercent = 150 }, false},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, false},
		{"empty language", func(c *Config) { c.Core.Languages = []string{""} }, false},
		{"parser without command", func(c *Config) {
			c.Parsers = []ExternalParserConfig{{Language: "kotlin", Extensions: []string{".kt"}}}
		}, false},
		{"parser extension without dot", func(c *Config) {
			c.Parsers = []ExternalParserConfig{{Language: "kotlin", Command: "kt", Extensions: []string{"kt"}}}
		}, false},
		{"extension claimed twice", func(c *Config) {
			c.Parsers = []ExternalParserConfig{
				{Language: "kotlin", Command: "kt", Extensions: []string{".kt"}},
				{Language: "other", Command: "ot", Extensions: []string{".kt"}},
			}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.wantOK {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() error %v does not wrap ErrInvalidConfig", err)
				}
			}
		})
	}
}

func TestValidate_BadThresholdWrapsConfidenceError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Core.MinCrossLanguageConfidence = "sure"
	if err := cfg.Validate(); !errors.Is(err, models.ErrInvalidConfidence) {
		t.Errorf("Validate() = %v, want ErrInvalidConfidence", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults when nothing found", func(t *testing.T) {
		res, err := LoadConfig(WithRoot(t.TempDir()))
		if err != nil {
			t.Fatalf("LoadConfig() error: %v", err)
		}
		if res.Source != "" {
			t.Errorf("Source = %q, want empty", res.Source)
		}
	})

	t.Run("finds dotted dir", func(t *testing.T) {
		root := t.TempDir()
		if err := os.MkdirAll(filepath.Join(root, ".embargo"), 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(root, ".embargo", "embargo.yml")
		if err := os.WriteFile(path, []byte("analysis:\n  workers: 3\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		res, err := LoadConfig(WithRoot(root))
		if err != nil {
			t.Fatalf("LoadConfig() error: %v", err)
		}
		if res.Source != path {
			t.Errorf("Source = %q, want %q", res.Source, path)
		}
		if res.Config.Analysis.Workers != 3 {
			t.Errorf("Workers = %d, want 3", res.Config.Analysis.Workers)
		}
	})

	t.Run("invalid explicit file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "embargo.toml")
		if err := os.WriteFile(path, []byte("[core]\nmin_cross_language_confidence = \"maybe\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(WithPath(path)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("LoadConfig() = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestLoadOrDefault(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	cfg := LoadOrDefault()
	if cfg == nil {
		t.Fatal("LoadOrDefault() returned nil")
	}
	if cfg.Cache.Dir != ".embargo/cache" {
		t.Errorf("LoadOrDefault() returned non-default Cache.Dir: %s", cfg.Cache.Dir)
	}
}

func TestLoadOrDefaultWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	content := `
[analysis]
workers = 7
`
	if err := os.WriteFile(filepath.Join(tmpDir, "embargo.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Chdir(tmpDir)

	cfg := LoadOrDefault()
	if cfg.Analysis.Workers != 7 {
		t.Errorf("LoadOrDefault() should load from file, got Workers=%d", cfg.Analysis.Workers)
	}
}

func TestHotHints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hints.yaml")
	content := "hot:\n  - dispatch\n  - \"api/*.py:handle_*\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	h := HotConfig{Hints: []string{"main"}, HintsFile: path}
	hints, err := h.AllHints()
	if err != nil {
		t.Fatalf("AllHints() error: %v", err)
	}
	want := []string{"main", "dispatch", "api/*.py:handle_*"}
	if len(hints) != len(want) {
		t.Fatalf("AllHints() = %v, want %v", hints, want)
	}
	for i := range want {
		if hints[i] != want[i] {
			t.Errorf("hints[%d] = %q, want %q", i, hints[i], want[i])
		}
	}

	h.HintsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := h.AllHints(); err == nil {
		t.Error("AllHints() should fail for a missing hints file")
	}
}

func TestShouldExclude(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		path string
		want bool
	}{
		{"vendor/pkg/file.go", true},
		{"node_modules/pkg/file.js", true},
		{".git/objects/file", true},
		{"target/debug/build.rs", true},

		{"app.min.js", true},
		{"api.pb.go", true},
		{"api_pb2.py", true},

		{"go.sum", true},
		{"package.lock", true},

		{"main.go", false},
		{"main_test.go", false},
		{"pkg/util/helper.go", false},
		{"app.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := cfg.ShouldExclude(tt.path)
			if got != tt.want {
				t.Errorf("ShouldExclude(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestShouldExcludePathsWithSeparators(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join("src", "vendor", "pkg", "file.go"), true},
		{filepath.Join("vendor", "file.go"), true},
		{filepath.Join("src", "main.go"), false},
		{filepath.Join("pkg", "vendor_utils.go"), false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := cfg.ShouldExclude(tt.path)
			if got != tt.want {
				t.Errorf("ShouldExclude(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
