package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"civitscraper/pkg/auth"
	"civitscraper/pkg/config"
	"civitscraper/pkg/ui"
)

const defaultConfigPath = ".civitscraper.yaml"

func newConfigCmd(g *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage civitscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (CIVITSCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with the default values",
		Long: `Create a configuration file with every option set to its default.

The file is created as '.civitscraper.yaml' in the current directory unless a
different path is given with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, g)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging every source.

The API key is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, g)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Output and log path accessibility`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, g)
		},
	}

	configCmd.AddCommand(initCmd, showCmd, validateCmd)
	return configCmd
}

func runConfigInit(cmd *cobra.Command, g *globalOptions) error {
	configPath := g.configFile
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); err == nil {
		return fatal("configuration file already exists: %s", configPath)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return fatal("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	if !ui.IsQuietMode() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "\nNext steps:")
		fmt.Fprintln(out, "1. Edit the configuration file")
		fmt.Fprintln(out, "2. Run 'civitscraper config validate' to check it")
		fmt.Fprintln(out, "3. Start downloading with 'civitscraper scrape <username>'")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, g *globalOptions) error {
	cfg, err := config.Load(g.configFile, nil)
	if err != nil {
		return fatal("failed to load configuration: %w", err)
	}

	displayCfg := *cfg
	if displayCfg.API.APIKey != "" {
		displayCfg.API.APIKey = auth.MaskKey(displayCfg.API.APIKey)
	}

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		return fatal("failed to format configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))

	source := g.configFile
	if source == "" {
		source = config.FindConfigFile()
	}
	if source == "" {
		source = "(none found)"
	}
	fmt.Fprintln(out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "2. Environment variables (CIVITSCRAPER_*)")
	fmt.Fprintln(out, "3. .env files")
	fmt.Fprintf(out, "4. Configuration file: %s\n", source)
	fmt.Fprintln(out, "5. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, g *globalOptions) error {
	configPath := g.configFile
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		return fatal("no configuration file found, specify one with --config")
	}

	ui.PrintInfo("Validating configuration", configPath)

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fatal("configuration validation failed: %w", err)
	}

	var problems, warnings []string

	if info, err := os.Stat(cfg.Output.BaseDirectory); err == nil && !info.IsDir() {
		problems = append(problems, fmt.Sprintf("Output path is not a directory: %s", cfg.Output.BaseDirectory))
	}
	if cfg.Logging.File != "" {
		dir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	if cfg.API.APIKey == "" {
		warnings = append(warnings, "No API key configured, requests will be anonymous")
	}
	if cfg.RateLimit.RequestsPerMinute > 120 {
		warnings = append(warnings, "requests_per_minute above 120 may trigger server rate limits")
	}

	out := cmd.OutOrStdout()
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:", "")
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return &exitError{code: exitFatal}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:", "")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	ui.PrintSuccess("Configuration is valid")
	if !ui.IsQuietMode() {
		fmt.Fprintln(out, "\nConfiguration summary:")
		fmt.Fprintf(out, "  Output directory: %s\n", cfg.Output.BaseDirectory)
		fmt.Fprintf(out, "  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
		fmt.Fprintf(out, "  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
		fmt.Fprintf(out, "  Max attempts: %d\n", cfg.Retry.MaxAttempts)
		fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	}
	return nil
}
