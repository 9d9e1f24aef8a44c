package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/internal/output"
	"github.com/panbanda/embargo/pkg/config"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the parse cache",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show parse cache statistics",
				Action: runCacheStatsCmd,
			},
			{
				Name:   "clear",
				Usage:  "Remove all cached parse results",
				Action: runCacheClearCmd,
			},
		},
	}
}

// openConfiguredCache opens the cache described by the config. --no-cache
// does not apply here.
func openConfiguredCache(c *cli.Context) (*config.Config, *cache.Cache, error) {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Cache.Enabled {
		return nil, nil, fmt.Errorf("parse cache is disabled in configuration")
	}
	ch, err := openCache(cfg, newLogger(c, cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, ch, nil
}

func runCacheStatsCmd(c *cli.Context) error {
	cfg, ch, err := openConfiguredCache(c)
	if err != nil {
		return err
	}
	defer ch.Close()

	stats, err := ch.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache stats: %w", err)
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()
	return formatter.Output(&output.CacheStatsView{Stats: stats})
}

func runCacheClearCmd(c *cli.Context) error {
	_, ch, err := openConfiguredCache(c)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	color.Green("Cache cleared (%s)", ch.Backend())
	return nil
}
