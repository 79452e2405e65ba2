package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"wmharvest/pkg/auth"
	"wmharvest/pkg/config"
	"wmharvest/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage wmharvest configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (WMHARVEST_*)
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'wmharvest.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after all sources are applied.

The token is masked.`,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Output and dataset directory accessibility`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# wmharvest configuration file
#
# Every option can also be set through environment variables prefixed with
# WMHARVEST_, for example WMHARVEST_TOKEN or WMHARVEST_HOSTS.

webmaster:
  # OAuth token. Prefer 'wmharvest auth login', which keeps it out of this file.
  token: ""
  # Stored account to use when token is empty
  account: ""
  base_url: "https://api.webmaster.yandex.net"
  timeout: 30s

# Hosts to collect. Leave empty to collect every host of the account.
# List form, all hosts use the regions below:
#   hosts:
#     - https:example.com:443
# Mapping form, each host has its own regions ([] means all regions):
#   hosts:
#     https:example.com:443: [225]
#     https:shop.example.com:443: []
hosts: []

# Hosts skipped when hosts is empty, by host id or URL
excluded_hosts: []

# Region ids for the list form, empty means all regions
regions: []

collect:
  # Window length in days, ending today
  days: 14
  # Rows per request, at most 500
  page_size: 500
  # Collect statistics per page URL instead of per host
  by_url: false
  # Drop queries whose demand is reported as zero
  filter_zero_demand: true
  # Fetch every window even if it was collected before
  force_refetch: false

rate_limit:
  # Pause between requests
  request_interval: 2s
  # Hourly request budget, 0 disables it
  requests_per_hour: 0
  # When the quota is exhausted the run waits for the next quantum boundary plus grace
  quantum: 1h
  grace: 5s
  # Give up a page after this many waits, 0 waits indefinitely
  max_waits: 0

retry:
  # Attempts for network failures
  max_attempts: 3
  initial_backoff: 1s
  max_backoff: 30s
  multiplier: 2.0

storage:
  # csv or sqlite
  type: csv
  csv_path: "for-all-time-full-data-query_stats.csv"
  sqlite_path: "for-all-time-full-data-query_stats.db"
  checkpoint_path: "processed_data.json"

output:
  # Directory and name of the per-run file
  directory: "."
  run_file_pattern: "temp_data_{timestamp}.csv"

notifications:
  enabled: true
  on_complete: true
  on_rate_limit: true

metrics:
  # Prometheus textfile written after each run, empty disables it
  textfile: ""

logging:
  # debug, info, warn, error
  level: "info"
  # text or json
  format: "text"
  # Log file path, empty logs to stderr
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "wmharvest.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your token with 'wmharvest auth login'")
	fmt.Println("2. Pick hosts and regions in the configuration file")
	fmt.Println("3. Run 'wmharvest config validate' to check the configuration")
	fmt.Println("4. Start collecting with 'wmharvest collect'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		return err
	}

	displayCfg := *cfg
	if displayCfg.Webmaster.Token != "" {
		displayCfg.Webmaster.Token = auth.MaskString(displayCfg.Webmaster.Token)
	}

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		return err
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (WMHARVEST_*)")
	fmt.Println("3. .env file")
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		fmt.Printf("4. Configuration file: %s\n", path)
	} else {
		fmt.Println("4. Configuration file: (not found)")
	}
	fmt.Println("5. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		ui.PrintError("No configuration file found", "Specify a file with --config flag")
		return fmt.Errorf("no configuration file found")
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		return err
	}

	var warnings, problems []string

	if cfg.Webmaster.Token == "" && cfg.Webmaster.Account == "" {
		warnings = append(warnings, "no token configured, the default stored account will be used")
	}
	if cfg.RateLimit.RequestInterval == 0 && cfg.RateLimit.RequestsPerHour == 0 {
		warnings = append(warnings, "requests are not paced, the API quota will run out quickly")
	}

	for _, dir := range []string{cfg.Output.Directory, filepath.Dir(cfg.StoragePath()), filepath.Dir(cfg.Storage.CheckpointPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create directory %s: %v", dir, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration has %d errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Hosts: %d configured (0 means all)\n", len(cfg.Hosts))
	fmt.Printf("  Window: %d days\n", cfg.Collect.Days)
	fmt.Printf("  By URL: %v\n", cfg.Collect.ByURL)
	fmt.Printf("  Storage: %s (%s)\n", cfg.Storage.Type, cfg.StoragePath())
	fmt.Printf("  Request interval: %s\n", cfg.RateLimit.RequestInterval)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
