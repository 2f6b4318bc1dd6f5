package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "slack_webhook_url: ${TEST_WEBHOOK}",
			envVars: map[string]string{
				"TEST_WEBHOOK": "https://hooks.slack.com/services/T0/B0/x",
			},
			expected: "slack_webhook_url: https://hooks.slack.com/services/T0/B0/x",
		},
		{
			name:  "expand multiple env vars",
			input: "token: ${BOT_TOKEN}\nchat: ${CHAT_ID}",
			envVars: map[string]string{
				"BOT_TOKEN": "token_value",
				"CHAT_ID":   "chat_value",
			},
			expected: "token: token_value\nchat: chat_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "token: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "token: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\ntoken: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\ntoken: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-test-*.yaml")
	require.NoError(t, err)
	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	path := writeConfigFile(t, `app:
  name: "qtrader"

feed:
  mode: "simulator"
  symbols: ["AAPL", "MSFT"]
  tick_interval_ms: 250

server:
  addr: ":9090"
  allowed_origins: ["http://localhost:9090"]

alerts:
  enabled: true
  slack_webhook_url: "${TEST_SLACK_WEBHOOK}"
  telegram_bot_token: "${TEST_TELEGRAM_TOKEN}"
  telegram_chat_id: "12345"

system:
  log_level: "DEBUG"
`)

	os.Setenv("TEST_SLACK_WEBHOOK", "https://hooks.slack.com/services/T0/B0/secret")
	os.Setenv("TEST_TELEGRAM_TOKEN", "bot_token_from_env")
	defer os.Unsetenv("TEST_SLACK_WEBHOOK")
	defer os.Unsetenv("TEST_TELEGRAM_TOKEN")

	config, err := LoadConfig(path)
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, Secret("https://hooks.slack.com/services/T0/B0/secret"), config.Alerts.SlackWebhookURL)
	assert.Equal(t, Secret("bot_token_from_env"), config.Alerts.TelegramBotToken)
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.Equal(t, []string{"AAPL", "MSFT"}, config.Feed.Symbols)

	// Unset fields keep their defaults
	assert.Equal(t, 256, config.Engine.PositionQueueSize)
	assert.Equal(t, float64(20), config.Alerts.PositionLossPct)
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "bad feed mode",
			content: `feed:
  mode: "ibkr"
server:
  addr: ":8080"
  allowed_origins: ["*"]
system:
  log_level: "INFO"
`,
			wantErr: "feed.mode",
		},
		{
			name: "missing server addr",
			content: `feed:
  mode: "none"
server:
  addr: ""
  allowed_origins: ["*"]
system:
  log_level: "INFO"
`,
			wantErr: "server.addr",
		},
		{
			name: "wildcard origin in production",
			content: `feed:
  mode: "none"
server:
  addr: ":8080"
  allowed_origins: ["*"]
  production: true
system:
  log_level: "INFO"
`,
			wantErr: "server.allowed_origins",
		},
		{
			name: "bad log level",
			content: `feed:
  mode: "none"
server:
  addr: ":8080"
  allowed_origins: ["http://localhost:8080"]
system:
  log_level: "verbose"
`,
			wantErr: "system.log_level",
		},
		{
			name: "telegram token without chat id",
			content: `feed:
  mode: "none"
server:
  addr: ":8080"
  allowed_origins: ["http://localhost:8080"]
alerts:
  enabled: true
  telegram_bot_token: "tok"
  telegram_chat_id: ""
system:
  log_level: "INFO"
`,
			wantErr: "alerts.telegram_chat_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerts.SlackWebhookURL = Secret("https://hooks.slack.com/services/super_secret")
	cfg.Alerts.TelegramBotToken = Secret("super_secret_bot_token")

	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]", "output should contain the redaction marker")
	assert.NotContains(t, output, "super_secret", "output should NOT contain secret values")
}
