package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/panbanda/embargo/pkg/models"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration options for embargo.
type Config struct {
	// Core graph-building behavior
	Core CoreConfig `koanf:"core" toml:"core"`

	// Pipeline resource limits
	Analysis AnalysisConfig `koanf:"analysis" toml:"analysis"`

	// File exclusion patterns
	Exclude ExcludeConfig `koanf:"exclude" toml:"exclude"`

	// Cache settings
	Cache CacheConfig `koanf:"cache" toml:"cache"`

	// Hot-path tagging
	Hot HotConfig `koanf:"hot" toml:"hot"`

	// External parser commands
	Parsers []ExternalParserConfig `koanf:"parsers" toml:"parsers" validate:"dive"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`
}

// CoreConfig controls resolution.
type CoreConfig struct {
	EnableCrossLanguage        bool     `koanf:"enable_cross_language" toml:"enable_cross_language"`
	MinCrossLanguageConfidence string   `koanf:"min_cross_language_confidence" toml:"min_cross_language_confidence" validate:"required"`
	Languages                  []string `koanf:"languages" toml:"languages" validate:"dive,required"`
}

// MinConfidence parses the configured cross-language threshold.
func (c CoreConfig) MinConfidence() (models.Confidence, error) {
	return models.ParseConfidence(c.MinCrossLanguageConfidence)
}

// AnalysisConfig bounds the pipeline.
type AnalysisConfig struct {
	Workers     int           `koanf:"workers" toml:"workers" validate:"gte=0"`
	Deadline    time.Duration `koanf:"deadline" toml:"deadline" validate:"gte=0"`
	MaxFileSize int64         `koanf:"max_file_size" toml:"max_file_size" validate:"gte=0"` // bytes, 0 = unlimited
}

// ExcludeConfig defines file exclusion patterns.
type ExcludeConfig struct {
	Patterns   []string `koanf:"patterns" toml:"patterns"`
	Extensions []string `koanf:"extensions" toml:"extensions"`
	Dirs       []string `koanf:"dirs" toml:"dirs"`
	Gitignore  bool     `koanf:"gitignore" toml:"gitignore"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled          bool   `koanf:"enabled" toml:"enabled"`
	Backend          string `koanf:"backend" toml:"backend" validate:"oneof=file badger memory"`
	Dir              string `koanf:"dir" toml:"dir" validate:"required_unless=Backend memory"`
	TTL              int    `koanf:"ttl" toml:"ttl" validate:"gte=0"` // TTL in hours, 0 = never expire
	MaxMemoryEntries int    `koanf:"max_memory_entries" toml:"max_memory_entries" validate:"gte=0"`
}

// HotConfig selects which nodes get the hot tag. With no hints and a zero
// TopPercent no node is hot.
type HotConfig struct {
	Hints      []string `koanf:"hints" toml:"hints"`
	HintsFile  string   `koanf:"hints_file" toml:"hints_file"`
	TopPercent float64  `koanf:"top_percent" toml:"top_percent" validate:"gte=0,lte=100"`
}

// ExternalParserConfig describes a command that prints a ParseResult
// document for one file.
type ExternalParserConfig struct {
	Language   string   `koanf:"language" toml:"language" validate:"required"`
	Command    string   `koanf:"command" toml:"command" validate:"required"`
	Args       []string `koanf:"args" toml:"args"`
	Extensions []string `koanf:"extensions" toml:"extensions" validate:"required,min=1,dive,startswith=."`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format  string `koanf:"format" toml:"format" validate:"oneof=text json compact toon markdown"`
	Color   bool   `koanf:"color" toml:"color"`
	Verbose bool   `koanf:"verbose" toml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			EnableCrossLanguage:        true,
			MinCrossLanguageConfidence: "low",
		},
		Analysis: AnalysisConfig{
			MaxFileSize: 2 << 20,
		},
		Exclude: ExcludeConfig{
			Patterns: []string{
				"*.min.js",
				"*.pb.go",
				"*_pb2.py",
			},
			Extensions: []string{
				".lock",
				".sum",
			},
			Dirs: []string{
				"vendor",
				"node_modules",
				".git",
				".embargo",
				"dist",
				"build",
				"target",
				"__pycache__",
			},
			Gitignore: true,
		},
		Cache: CacheConfig{
			Enabled:          true,
			Backend:          "file",
			Dir:              ".embargo/cache",
			TTL:              0,
			MaxMemoryEntries: 1000,
		},
		Output: OutputConfig{
			Format:  "text",
			Color:   true,
			Verbose: false,
		},
	}
}

// Validate checks struct constraints and the confidence threshold.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Core.MinConfidence(); err != nil {
		return fmt.Errorf("%w: core.min_cross_language_confidence: %w", ErrInvalidConfig, err)
	}
	seen := make(map[string]string)
	for _, p := range c.Parsers {
		for _, ext := range p.Extensions {
			if lang, ok := seen[ext]; ok && lang != p.Language {
				return fmt.Errorf("%w: extension %s claimed by %s and %s", ErrInvalidConfig, ext, lang, p.Language)
			}
			seen[ext] = p.Language
		}
	}
	return nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	default:
		return toml.Parser()
	}
}

// Load loads configuration from a file over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

var configNames = []string{
	"embargo.toml",
	"embargo.yaml",
	"embargo.yml",
	"embargo.json",
	".embargo.toml",
	".embargo.yaml",
	".embargo.yml",
	".embargo.json",
}

var searchDirs = []string{".", ".embargo"}

// FindConfigFile returns the first standard config file under root, or "".
func FindConfigFile(root string) string {
	for _, dir := range searchDirs {
		for _, name := range configNames {
			path := filepath.Join(root, dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadOrDefault tries to load config from standard locations or returns defaults.
func LoadOrDefault() *Config {
	if path := FindConfigFile("."); path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

// ShouldExclude checks if a path should be excluded from analysis.
func (c *Config) ShouldExclude(path string) bool {
	sep := string(filepath.Separator)
	for _, dir := range c.Exclude.Dirs {
		if strings.Contains(path, sep+dir+sep) || strings.HasPrefix(path, dir+sep) {
			return true
		}
	}

	ext := filepath.Ext(path)
	for _, excludeExt := range c.Exclude.Extensions {
		if ext == excludeExt {
			return true
		}
	}

	base := filepath.Base(path)
	for _, pattern := range c.Exclude.Patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}

	return false
}
