package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/config"
	"github.com/reviewmate/internal/relay"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "reviewmate.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "check",
				Usage:  "Show which credentials are configured",
				Action: runConfigCheck,
			},
			{
				Name:   "test",
				Usage:  "List the model provider's models with the configured settings",
				Action: runConfigTest,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Path != "" {
		fmt.Fprintf(c.App.Writer, "Configuration is valid (%s)\n", cfg.Path)
	} else {
		fmt.Fprintln(c.App.Writer, "Configuration is valid (defaults and environment only)")
	}
	return nil
}

func runConfigCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(c.App.Writer, result)
	if len(result.Missing) > 0 {
		return errors.New("required configuration is missing")
	}
	return nil
}

func runConfigTest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()

	result := relay.New(relay.StaticSettings(cfg.Model)).CheckSettings(ctx, cfg.Model)
	if !result.OK {
		return fmt.Errorf("settings check failed: %s", result.Error)
	}
	fmt.Fprintf(c.App.Writer, "OK: %s\n", result.Message)
	return nil
}
