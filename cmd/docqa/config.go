package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/docqa/internal/config"
	"github.com/ShayCichocki/docqa/internal/credentials"
	"github.com/ShayCichocki/docqa/internal/llm"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the effective configuration after merging the user config,
the project config (.docqa.yaml) and DOCQA_* environment variables.

API keys are shown masked, with where each key was found.

User configuration is stored at ~/.config/docqa/config.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		displayAllConfig(cfg)
		displayCredentials(cfg)
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the user config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			printStatus("⚠", fmt.Sprintf("%s already exists (use --force to overwrite)", path), color.FgYellow)
			return nil
		}
		written, err := config.Save(config.Default())
		if err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Wrote %s", written), color.FgGreen)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("# project config: %s\n", p)
	}
	fmt.Printf("# user config: %s\n", config.GetUserConfigPath())

	settings := config.Settings(cfg)
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, settings[k])
	}
}

// displayCredentials prints the masked key of every provider a configured
// model needs.
func displayCredentials(cfg *config.Config) {
	if err := credentials.LoadEnvFiles(cfg.Credentials.EnvFile); err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return
	}
	creds, err := credentials.LoadOptional(cfg.Credentials.Path)
	if err != nil {
		printStatus("✗", fmt.Sprintf("credentials: %v", err), color.FgRed)
		return
	}
	registry, err := llm.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		printStatus("✗", fmt.Sprintf("model registry: %v", err), color.FgRed)
		return
	}

	fmt.Println()
	seen := make(map[string]bool)
	for _, name := range []string{cfg.Models.Decompose, cfg.Models.Text, cfg.Models.Image, cfg.Models.Summary, cfg.Models.Judge} {
		entry, err := registry.Lookup(name)
		if err != nil {
			printStatus("✗", fmt.Sprintf("model %s: not in registry", name), color.FgRed)
			continue
		}
		if entry.Provider == "" || entry.Kind == llm.KindOllama || seen[entry.Provider] {
			continue
		}
		seen[entry.Provider] = true

		key, err := creds.Lookup(entry.Provider)
		if err != nil {
			printStatus("⚠", fmt.Sprintf("%s.api_key: (not set)", entry.Provider), color.FgYellow)
			continue
		}
		fmt.Printf("%s.api_key: %s (%s)\n", entry.Provider, credentials.MaskAPIKey(key), creds.Source(entry.Provider))
	}

	for _, p := range unusedProviders(creds, seen) {
		fmt.Printf("%s.api_key: unused by the configured models\n", p)
	}
}

// unusedProviders lists providers in the keys file that no configured model
// needs.
func unusedProviders(creds *credentials.Store, used map[string]bool) []string {
	var out []string
	for _, p := range creds.Providers() {
		if !used[p] {
			out = append(out, p)
		}
	}
	return out
}
