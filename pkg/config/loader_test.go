package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigDir(t *testing.T, ifoxYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ifox.yaml"), []byte(ifoxYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

const minimalProvidersYAML = `
llm_providers:
  test-provider:
    type: openai
    model: gpt-test
    max_tool_result_tokens: 100000
`

func TestInitialize_MinimalConfig(t *testing.T) {
	dir := writeConfigDir(t, `
system:
  dashboard_url: "http://dash.example"
defaults:
  llm_provider: test-provider
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "http://dash.example", cfg.DashboardURL)
	assert.Equal(t, "test-provider", cfg.Defaults.LLMProvider)

	// Built-in MCP servers and LLM providers are merged in.
	assert.True(t, cfg.MCPServerRegistry.Has("kubernetes-server"))
	_, err = cfg.LLMProviderRegistry.Get("anthropic-default")
	assert.NoError(t, err)
	_, err = cfg.LLMProviderRegistry.Get("test-provider")
	assert.NoError(t, err)
}

func TestInitialize_UserMCPServerOverridesBuiltin(t *testing.T) {
	dir := writeConfigDir(t, `
mcp_servers:
  kubernetes-server:
    transport:
      type: http
      url: "http://mcp.internal:8080"
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	server, err := cfg.GetMCPServer("kubernetes-server")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeHTTP, server.Transport.Type)
	assert.Equal(t, "http://mcp.internal:8080", server.Transport.URL)
}

func TestInitialize_SummarizationThresholdDefaulted(t *testing.T) {
	dir := writeConfigDir(t, `
mcp_servers:
  custom-server:
    transport:
      type: stdio
      command: custom-mcp
    summarization:
      enabled: true
`, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	server, err := cfg.GetMCPServer("custom-server")
	require.NoError(t, err)
	assert.Equal(t, DefaultSizeThresholdTokens, server.Summarization.SizeThresholdTokens)
}

func TestInitialize_MissingFileFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidDefaultsProviderFails(t *testing.T) {
	dir := writeConfigDir(t, `
defaults:
  llm_provider: does-not-exist
`, minimalProvidersYAML)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestInitialize_RetentionDefaultsApplied(t *testing.T) {
	dir := writeConfigDir(t, ``, minimalProvidersYAML)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, cfg.Retention)
	assert.Equal(t, DefaultRetentionConfig().SessionRetentionDays, cfg.Retention.SessionRetentionDays)
}
