package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// IfoxYAMLConfig represents the complete ifox.yaml file structure
type IfoxYAMLConfig struct {
	System     *SystemYAMLConfig          `yaml:"system"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Defaults   *Defaults                  `yaml:"defaults"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DashboardURL     string           `yaml:"dashboard_url"`
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Slack            *SlackYAMLConfig `yaml:"slack"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// SlackYAMLConfig holds Slack notification settings from YAML.
type SlackYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply MCP server defaults (e.g. size_threshold_tokens)
//  6. Build in-memory registries
//  7. Apply default values
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load ifox.yaml (contains mcp_servers, system, defaults)
	ifoxConfig, err := loader.loadIfoxYAML()
	if err != nil {
		return nil, NewLoadError("ifox.yaml", err)
	}

	// 2. Load llm-providers.yaml
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	mcpServers := mergeMCPServers(builtin.MCPServers, ifoxConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Apply MCP server defaults (before validation)
	for _, server := range mcpServers {
		if server.Summarization != nil && server.Summarization.Enabled && server.Summarization.SizeThresholdTokens == 0 {
			server.Summarization.SizeThresholdTokens = DefaultSizeThresholdTokens
		}
	}

	// 6. Build registries
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 7. Resolve defaults
	defaults := ifoxConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.Masking == nil {
		defaults.Masking = &MaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		}
	}

	// Resolve system config (Slack + Retention + DashboardURL + WS Origins)
	slackCfg := resolveSlackConfig(ifoxConfig.System)
	retentionCfg := resolveRetentionConfig(ifoxConfig.System)
	dashboardURL := resolveDashboardURL(ifoxConfig.System)
	allowedWSOrigins := resolveAllowedWSOrigins(ifoxConfig.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Slack:               slackCfg,
		Retention:           retentionCfg,
		DashboardURL:        dashboardURL,
		AllowedWSOrigins:    allowedWSOrigins,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadIfoxYAML() (*IfoxYAMLConfig, error) {
	var config IfoxYAMLConfig

	// Initialize maps to avoid nil maps
	config.MCPServers = make(map[string]MCPServerConfig)

	if err := l.loadYAML("ifox.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveSlackConfig resolves Slack configuration from system YAML, applying defaults.
func resolveSlackConfig(sys *SystemYAMLConfig) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}

// resolveDashboardURL resolves the dashboard base URL from system YAML, applying defaults.
func resolveDashboardURL(sys *SystemYAMLConfig) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.SessionRetentionDays > 0 {
		cfg.SessionRetentionDays = r.SessionRetentionDays
	}
	if r.EventTTL > 0 {
		cfg.EventTTL = r.EventTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}

// resolveAllowedWSOrigins returns additional WebSocket origin patterns from system YAML.
func resolveAllowedWSOrigins(sys *SystemYAMLConfig) []string {
	if sys != nil {
		return sys.AllowedWSOrigins
	}
	return nil
}
