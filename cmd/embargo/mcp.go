package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/mcpserver"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start MCP (Model Context Protocol) server for LLM tool integration",
		Description: `Starts an MCP server over stdio transport that exposes embargo's dependency
graph as tools that LLMs can invoke.

To use with Claude Desktop, add to your config:
  {
    "mcpServers": {
      "embargo": {
        "command": "embargo",
        "args": ["mcp"]
      }
    }
  }

Available tools:
  - analyze_dependencies  Dependency graph with cross-language links
  - cache_stats           Parse cache statistics`,
		Action: runMCPCmd,
		Subcommands: []*cli.Command{
			{
				Name:   "manifest",
				Usage:  "Print the MCP registry manifest (server.json)",
				Action: runMCPManifestCmd,
			},
		},
	}
}

func runMCPCmd(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}
	logger := newLogger(c, cfg)

	opts := []mcpserver.Option{mcpserver.WithLogger(logger)}
	ch, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	if ch != nil {
		defer ch.Close()
		opts = append(opts, mcpserver.WithCache(ch))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return mcpserver.NewServer(version, cfg, opts...).Run(ctx)
}

func runMCPManifestCmd(c *cli.Context) error {
	data, err := mcpserver.GenerateManifest(version)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}
