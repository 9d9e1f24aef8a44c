package config

import "fmt"

// LoadResult is a loaded configuration plus where it came from.
type LoadResult struct {
	Config *Config
	// Source is the file the config was read from, or "" for defaults.
	Source string
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadOptions)

type loadOptions struct {
	path string
	root string
}

// WithPath loads an explicit file instead of searching.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) {
		o.path = path
	}
}

// WithRoot sets the directory searched for standard config files.
func WithRoot(root string) LoadOption {
	return func(o *loadOptions) {
		o.root = root
	}
}

// LoadConfig resolves, loads and validates a configuration. Unlike
// LoadOrDefault it reports errors, so an explicit file that fails to parse
// or validate is never silently replaced by defaults.
func LoadConfig(opts ...LoadOption) (*LoadResult, error) {
	o := loadOptions{root: "."}
	for _, opt := range opts {
		opt(&o)
	}

	path := o.path
	if path == "" {
		path = FindConfigFile(o.root)
	}

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	return &LoadResult{Config: cfg, Source: path}, nil
}
