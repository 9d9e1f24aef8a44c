package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/internal/output"
	"github.com/panbanda/embargo/pkg/config"
)

// getPaths returns paths from positional args, defaulting to ["."]
func getPaths(c *cli.Context) []string {
	if c.Args().Len() > 0 {
		return c.Args().Slice()
	}
	return []string{"."}
}

// loadConfig reads --config, or the first standard config file in the
// working directory, over the defaults. source is "" for defaults.
func loadConfig(c *cli.Context) (cfg *config.Config, source string, err error) {
	source = c.String("config")
	if source == "" {
		source = config.FindConfigFile(".")
	}
	if source == "" {
		return config.DefaultConfig(), "", nil
	}
	cfg, err = config.Load(source)
	if err != nil {
		return nil, source, err
	}
	return cfg, source, nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func newLogger(c *cli.Context, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if c.Bool("verbose") || cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errWriter(c), &slog.HandlerOptions{Level: level}))
}

// openCache returns nil when caching is disabled.
func openCache(cfg *config.Config, logger *slog.Logger) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	ch, err := cache.New(cache.Options{
		Enabled:          true,
		Backend:          cache.Backend(cfg.Cache.Backend),
		Dir:              cfg.Cache.Dir,
		TTL:              time.Duration(cfg.Cache.TTL) * time.Hour,
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return ch, nil
}

func newFormatter(c *cli.Context, cfg *config.Config) (*output.Formatter, error) {
	format := c.String("format")
	if format == "" {
		format = cfg.Output.Format
	}
	return output.NewFormatter(output.ParseFormat(format), c.String("output"), cfg.Output.Color && !color.NoColor)
}
