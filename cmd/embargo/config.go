package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/pkg/parser"
)

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the effective configuration",
				Description: `Shows the merged configuration from defaults and config file as TOML.

Examples:
  embargo config show                 # Show effective config
  embargo -c embargo.toml config show # Show config from specific file`,
				Action: runConfigShowCmd,
			},
			{
				Name:  "validate",
				Usage: "Validate a configuration file",
				Description: `Validates an embargo configuration file for syntax errors and invalid values,
including external parser definitions.

Examples:
  embargo config validate                    # Validates default config locations
  embargo -c .embargo/embargo.yaml config validate`,
				Action: runConfigValidateCmd,
			},
		},
	}
}

func runConfigShowCmd(c *cli.Context) error {
	cfg, source, err := loadConfig(c)
	if err != nil {
		return err
	}

	w := c.App.Writer
	if source != "" {
		fmt.Fprintf(w, "# Configuration from: %s\n\n", source)
	} else {
		fmt.Fprintln(w, "# Default configuration (no config file found)")
	}

	content, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(w, string(content))
	return nil
}

func runConfigValidateCmd(c *cli.Context) error {
	cfg, source, err := loadConfig(c)
	if err == nil {
		err = cfg.Validate()
	}
	if err == nil {
		_, err = parser.DefaultRegistry(cfg)
	}
	if err != nil {
		color.Red("Configuration validation failed:")
		fmt.Fprintf(c.App.Writer, "  - %s\n", err)
		return err
	}

	if source != "" {
		color.Green("Configuration valid: %s", source)
	} else {
		color.Yellow("No config file found. Default configuration is valid.")
	}
	return nil
}
