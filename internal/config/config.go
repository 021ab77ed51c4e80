// Package config handles configuration loading and management for docqa.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for docqa.
type Config struct {
	Models      ModelsConfig      `mapstructure:"models"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Prompts     PromptsConfig     `mapstructure:"prompts"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Dataset     DatasetConfig     `mapstructure:"dataset"`
	Output      OutputConfig      `mapstructure:"output"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Bedrock     BedrockConfig     `mapstructure:"bedrock"`
}

// ModelsConfig names the registry entry used for each role.
type ModelsConfig struct {
	Decompose string `mapstructure:"decompose"`
	Text      string `mapstructure:"text"`
	Image     string `mapstructure:"image"`
	Summary   string `mapstructure:"summary"`
	Judge     string `mapstructure:"judge"`
}

// RegistryConfig points at an optional model registry override.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// PromptsConfig points at an optional prompt store override.
type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

// CredentialsConfig holds where API keys are read from.
type CredentialsConfig struct {
	// Path is a YAML file mapping provider names to keys.
	Path string `mapstructure:"path"`
	// EnvFile is a dotenv file loaded into the environment at startup.
	EnvFile string `mapstructure:"env_file"`
}

// DatasetConfig locates the benchmark dataset.
type DatasetConfig struct {
	JSONPath  string `mapstructure:"json_path"`
	TextDir   string `mapstructure:"text_dir"`
	ImageDir  string `mapstructure:"image_dir"`
	Offset    int    `mapstructure:"offset"`
	Limit     int    `mapstructure:"limit"`
	MaxImages int    `mapstructure:"max_images"`
}

// OutputConfig holds where results are written.
type OutputConfig struct {
	ResultsPath string `mapstructure:"results_path"`
	EvalPath    string `mapstructure:"eval_path"`
	// DBPath enables the SQLite run log when set.
	DBPath   string `mapstructure:"db_path"`
	DBDriver string `mapstructure:"db_driver"`
	// MetricsPath enables the Prometheus textfile export when set.
	MetricsPath string `mapstructure:"metrics_path"`
}

// BatchConfig holds batch driver settings.
type BatchConfig struct {
	Workers    int    `mapstructure:"workers"`
	SignalsDir string `mapstructure:"signals_dir"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	DebugFile string `mapstructure:"debug_file"`
}

// BedrockConfig routes anthropic models through AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// Supported run log drivers.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

var logLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers))
	}
	if c.Dataset.MaxImages < 0 {
		errs = append(errs, fmt.Errorf("dataset.max_images must not be negative, got %d", c.Dataset.MaxImages))
	}
	if c.Dataset.Offset < 0 {
		errs = append(errs, fmt.Errorf("dataset.offset must not be negative, got %d", c.Dataset.Offset))
	}
	if c.Dataset.Limit < 0 {
		errs = append(errs, fmt.Errorf("dataset.limit must not be negative, got %d", c.Dataset.Limit))
	}
	switch c.Output.DBDriver {
	case DriverModernc, DriverCgo:
	default:
		errs = append(errs, fmt.Errorf("output.db_driver must be %q or %q, got %q", DriverModernc, DriverCgo, c.Output.DBDriver))
	}
	if !logLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level %q is not one of trace, debug, info, warn, error", c.Logging.Level))
	}
	for role, name := range map[string]string{
		"decompose": c.Models.Decompose,
		"text":      c.Models.Text,
		"image":     c.Models.Image,
		"summary":   c.Models.Summary,
	} {
		if name == "" {
			errs = append(errs, fmt.Errorf("models.%s must name a registry entry", role))
		}
	}
	return errors.Join(errs...)
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (DOCQA_BATCH_WORKERS, ...)
// 2. Project config (.docqa.yaml in current directory or parent)
// 3. User config (~/.config/docqa/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Merge project config (takes precedence)
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path, as given by --config.
// Environment variables still take precedence over the file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	// Environment variable overrides: DOCQA_DATASET_JSON_PATH -> dataset.json_path
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in paths
	for _, p := range []*string{
		&cfg.Registry.Path,
		&cfg.Prompts.Path,
		&cfg.Credentials.Path,
		&cfg.Credentials.EnvFile,
		&cfg.Dataset.JSONPath,
		&cfg.Dataset.TextDir,
		&cfg.Dataset.ImageDir,
		&cfg.Output.ResultsPath,
		&cfg.Output.EvalPath,
		&cfg.Output.DBPath,
		&cfg.Output.MetricsPath,
		&cfg.Batch.SignalsDir,
		&cfg.Logging.DebugFile,
	} {
		*p = expandEnv(*p)
	}

	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) (string, error) {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")
	return configPath, SaveToPath(cfg, configPath)
}

// SaveToPath writes cfg as YAML to path.
func SaveToPath(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range Settings(cfg) {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// Settings flattens cfg into dotted keys, the layout viper reads back.
func Settings(cfg *Config) map[string]any {
	return map[string]any{
		"models.decompose":     cfg.Models.Decompose,
		"models.text":          cfg.Models.Text,
		"models.image":         cfg.Models.Image,
		"models.summary":       cfg.Models.Summary,
		"models.judge":         cfg.Models.Judge,
		"registry.path":        cfg.Registry.Path,
		"prompts.path":         cfg.Prompts.Path,
		"credentials.path":     cfg.Credentials.Path,
		"credentials.env_file": cfg.Credentials.EnvFile,
		"dataset.json_path":    cfg.Dataset.JSONPath,
		"dataset.text_dir":     cfg.Dataset.TextDir,
		"dataset.image_dir":    cfg.Dataset.ImageDir,
		"dataset.offset":       cfg.Dataset.Offset,
		"dataset.limit":        cfg.Dataset.Limit,
		"dataset.max_images":   cfg.Dataset.MaxImages,
		"output.results_path":  cfg.Output.ResultsPath,
		"output.eval_path":     cfg.Output.EvalPath,
		"output.db_path":       cfg.Output.DBPath,
		"output.db_driver":     cfg.Output.DBDriver,
		"output.metrics_path":  cfg.Output.MetricsPath,
		"batch.workers":        cfg.Batch.Workers,
		"batch.signals_dir":    cfg.Batch.SignalsDir,
		"logging.level":        cfg.Logging.Level,
		"logging.debug_file":   cfg.Logging.DebugFile,
		"bedrock.enabled":      cfg.Bedrock.Enabled,
		"bedrock.region":       cfg.Bedrock.Region,
		"bedrock.profile":      cfg.Bedrock.Profile,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range Settings(d) {
		v.SetDefault(key, value)
	}
}

// getUserConfigDir returns the XDG config directory for docqa.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "docqa")
	}

	// Fall back to ~/.config/docqa
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "docqa")
	}
	return filepath.Join(home, ".config", "docqa")
}

// findProjectConfig searches for .docqa.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".docqa.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Decompose: "llama_3_1",
			Text:      "llama_3_1",
			Image:     "qwen_vl_2_5",
			Summary:   "llama_3_1",
			Judge:     "qwen_plus_judge",
		},
		Credentials: CredentialsConfig{
			Path:    "config/api-keys.yaml",
			EnvFile: ".env",
		},
		Dataset: DatasetConfig{
			JSONPath:  "data/MMLongBench/dataset.json",
			TextDir:   "data/MMLongBench/text",
			ImageDir:  "data/MMLongBench/image",
			MaxImages: 4,
		},
		Output: OutputConfig{
			ResultsPath: "result.json",
			EvalPath:    "result_eval.json",
			DBDriver:    DriverModernc,
		},
		Batch: BatchConfig{
			Workers:    1,
			SignalsDir: filepath.Join(".docqa", "signals"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Bedrock: BedrockConfig{
			Region: "us-east-1",
		},
	}
}
