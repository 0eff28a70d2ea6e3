package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	envPrefix = "CONFIG_MERGER_"

	defaultConfigDir  = "/opt/retina/defaults"
	defaultOutputDir  = "/opt/retina/config"
	defaultOutputName = "config.yml"
	defaultProcRoot   = "/proc"
	defaultLogLevel   = "info"
)

// Config holds the merger's own runtime settings.
// Precedence: CLI flags > Environment variables > Defaults
type Config struct {
	// ConfigDir holds default.yml and forced.yml.
	ConfigDir string
	// UserConfigPath is the operator-editable layer. Empty means ConfigDir/user.yml.
	UserConfigPath string
	OutputDir      string
	OutputName     string
	DebugCopyPath  string
	RulesFile      string
	SeedUserConfig bool
	HardwareNodeID bool
	ProcRoot       string
	LogLevel       string
}

// CLIOverrides holds command-line flag overrides. Nil fields were not set.
type CLIOverrides struct {
	ConfigDir      *string
	UserConfigPath *string
	OutputDir      *string
	OutputName     *string
	DebugCopyPath  *string
	RulesFile      *string
	SeedUserConfig *bool
	HardwareNodeID *bool
	ProcRoot       *string
	LogLevel       *string
}

// Load resolves configuration with precedence:
// CLI flags > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// UserLayerPath returns the effective user layer location.
func (c Config) UserLayerPath() string {
	if c.UserConfigPath != "" {
		return c.UserConfigPath
	}
	return filepath.Join(c.ConfigDir, "user.yml")
}

func defaultConfig() Config {
	return Config{
		ConfigDir:      defaultConfigDir,
		OutputDir:      defaultOutputDir,
		OutputName:     defaultOutputName,
		SeedUserConfig: true,
		HardwareNodeID: false,
		ProcRoot:       defaultProcRoot,
		LogLevel:       defaultLogLevel,
	}
}

// applyEnvConfig applies CONFIG_MERGER_* environment variables.
func applyEnvConfig(cfg *Config) error {
	strs := map[string]*string{
		"CONFIG_DIR":  &cfg.ConfigDir,
		"USER_CONFIG": &cfg.UserConfigPath,
		"OUTPUT_DIR":  &cfg.OutputDir,
		"OUTPUT_NAME": &cfg.OutputName,
		"DEBUG_COPY":  &cfg.DebugCopyPath,
		"RULES":       &cfg.RulesFile,
		"PROC_ROOT":   &cfg.ProcRoot,
		"LOG_LEVEL":   &cfg.LogLevel,
	}
	for name, dst := range strs {
		if value := strings.TrimSpace(os.Getenv(envPrefix + name)); value != "" {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"SEED_USER":        &cfg.SeedUserConfig,
		"HARDWARE_NODE_ID": &cfg.HardwareNodeID,
	}
	for name, dst := range bools {
		raw := strings.TrimSpace(os.Getenv(envPrefix + name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s%s: invalid boolean %q", envPrefix, name, raw)
		}
		*dst = value
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	setString(&cfg.ConfigDir, overrides.ConfigDir)
	setString(&cfg.UserConfigPath, overrides.UserConfigPath)
	setString(&cfg.OutputDir, overrides.OutputDir)
	setString(&cfg.OutputName, overrides.OutputName)
	setString(&cfg.DebugCopyPath, overrides.DebugCopyPath)
	setString(&cfg.RulesFile, overrides.RulesFile)
	setString(&cfg.ProcRoot, overrides.ProcRoot)
	setString(&cfg.LogLevel, overrides.LogLevel)

	if overrides.SeedUserConfig != nil {
		cfg.SeedUserConfig = *overrides.SeedUserConfig
	}
	if overrides.HardwareNodeID != nil {
		cfg.HardwareNodeID = *overrides.HardwareNodeID
	}
}

func setString(dst *string, override *string) {
	if override != nil && *override != "" {
		*dst = *override
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.ConfigDir == "" {
		return fmt.Errorf("config directory cannot be empty")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if cfg.OutputName == "" || strings.ContainsRune(cfg.OutputName, filepath.Separator) || cfg.OutputName == "." || cfg.OutputName == ".." {
		return fmt.Errorf("output name %q must be a plain file name", cfg.OutputName)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	return nil
}
