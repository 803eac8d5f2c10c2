package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validatorConfig(servers map[string]*MCPServerConfig, providers map[string]*LLMProviderConfig) *Config {
	return &Config{
		Defaults:            &Defaults{},
		MCPServerRegistry:   NewMCPServerRegistry(servers),
		LLMProviderRegistry: NewLLMProviderRegistry(providers),
	}
}

func TestValidateMCPServers(t *testing.T) {
	tests := []struct {
		name    string
		server  *MCPServerConfig
		wantErr string
	}{
		{
			name:   "valid stdio server",
			server: &MCPServerConfig{Transport: TransportConfig{Type: TransportTypeStdio, Command: "mcp"}},
		},
		{
			name:    "stdio without command",
			server:  &MCPServerConfig{Transport: TransportConfig{Type: TransportTypeStdio}},
			wantErr: "command required",
		},
		{
			name:    "http without url",
			server:  &MCPServerConfig{Transport: TransportConfig{Type: TransportTypeHTTP}},
			wantErr: "url required",
		},
		{
			name:    "invalid transport type",
			server:  &MCPServerConfig{Transport: TransportConfig{Type: "carrier-pigeon"}},
			wantErr: "invalid transport type",
		},
		{
			name: "unknown masking pattern group",
			server: &MCPServerConfig{
				Transport:   TransportConfig{Type: TransportTypeStdio, Command: "mcp"},
				DataMasking: &MaskingConfig{Enabled: true, PatternGroups: []string{"no-such-group"}},
			},
			wantErr: "pattern group 'no-such-group' not found",
		},
		{
			name: "summarization threshold too low",
			server: &MCPServerConfig{
				Transport:     TransportConfig{Type: TransportTypeStdio, Command: "mcp"},
				Summarization: &SummarizationConfig{Enabled: true, SizeThresholdTokens: 10},
			},
			wantErr: "at least 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validatorConfig(map[string]*MCPServerConfig{"server": tt.server}, nil)
			err := NewValidator(cfg).ValidateAll()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateLLMProviders(t *testing.T) {
	tests := []struct {
		name     string
		provider *LLMProviderConfig
		wantErr  string
	}{
		{
			name:     "valid provider",
			provider: &LLMProviderConfig{Type: LLMProviderTypeAnthropic, Model: "claude-test", MaxToolResultTokens: 150000},
		},
		{
			name:     "invalid type",
			provider: &LLMProviderConfig{Type: "smoke-signals", Model: "m", MaxToolResultTokens: 150000},
			wantErr:  "invalid provider type",
		},
		{
			name:     "missing model",
			provider: &LLMProviderConfig{Type: LLMProviderTypeOpenAI, MaxToolResultTokens: 150000},
			wantErr:  "model required",
		},
		{
			name:     "tool result budget too small",
			provider: &LLMProviderConfig{Type: LLMProviderTypeOpenAI, Model: "m", MaxToolResultTokens: 10},
			wantErr:  "at least 1000",
		},
		{
			name: "invalid google native tool",
			provider: &LLMProviderConfig{
				Type: LLMProviderTypeGoogle, Model: "m", MaxToolResultTokens: 150000,
				NativeTools: map[GoogleNativeTool]bool{"telepathy": true},
			},
			wantErr: "invalid native tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validatorConfig(nil, map[string]*LLMProviderConfig{"p": tt.provider})
			err := NewValidator(cfg).ValidateAll()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateLLMProviders_DefaultProviderNeedsCredentials(t *testing.T) {
	provider := &LLMProviderConfig{
		Type: LLMProviderTypeOpenAI, Model: "m", MaxToolResultTokens: 150000,
		APIKeyEnv: "IFOX_TEST_MISSING_KEY",
	}

	cfg := validatorConfig(nil, map[string]*LLMProviderConfig{"p": provider})

	// Not the default: missing env var is tolerated.
	require.NoError(t, NewValidator(cfg).ValidateAll())

	// As the default, the env var must be set.
	cfg.Defaults.LLMProvider = "p"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IFOX_TEST_MISSING_KEY")

	t.Setenv("IFOX_TEST_MISSING_KEY", "sk-test")
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateSlack(t *testing.T) {
	cfg := validatorConfig(nil, nil)
	cfg.Slack = &SlackConfig{Enabled: true, TokenEnv: "IFOX_TEST_SLACK_TOKEN"}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel")

	cfg.Slack.Channel = "#incidents"
	err = NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IFOX_TEST_SLACK_TOKEN")

	t.Setenv("IFOX_TEST_SLACK_TOKEN", "xoxb-test")
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}
