package config

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// System-level resolved configuration
	Slack            *SlackConfig
	Retention        *RetentionConfig
	DashboardURL     string
	AllowedWSOrigins []string

	// Component registries
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration
type ConfigStats struct {
	MCPServers   int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		MCPServers:   len(c.MCPServerRegistry.GetAll()),
		LLMProviders: len(c.LLMProviderRegistry.GetAll()),
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves an MCP server configuration by ID.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
