package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
venue:
  name: bitz
  api_key: key123
  secret_key: secret456
  base_url: https://apiv2.bitz.com
  ws_url: wss://ws.bitz.com/wss
trading:
  pair: eth_btc
  ws_pair: ethbtc
  quote_currency: btc
  base_currency: eth
  min_order_size: 0.01
system:
  log_level: DEBUG
  cancel_on_exit: true
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "bitz", cfg.Venue.Name)
	assert.Equal(t, "key123", cfg.Venue.APIKey.Reveal())
	assert.Equal(t, "eth_btc", cfg.Trading.Pair)
	assert.True(t, cfg.System.CancelOnExit)

	// defaults applied
	assert.Equal(t, 5000, cfg.Timing.ConnectTimeout)
	assert.Equal(t, 1000, cfg.Timing.ReconnectDelay)
	assert.Equal(t, 60000, cfg.Timing.BalanceRefresh)
	assert.Equal(t, 25.0, cfg.Trading.RateLimit)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("BRIDGE_API_KEY", "from_env")
	yaml := strings.Replace(validYAML, "api_key: key123", "api_key: ${BRIDGE_API_KEY}", 1)
	path := writeConfigFile(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Venue.APIKey.Reveal())
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	yaml := strings.Replace(validYAML, "secret_key: secret456", "secret_key: \"\"", 1)
	path := writeConfigFile(t, yaml)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue.secret_key")
}

func TestLoadConfig_MissingPair(t *testing.T) {
	yaml := strings.Replace(validYAML, "pair: eth_btc", "pair: \"\"", 1)
	path := writeConfigFile(t, yaml)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.pair")
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	yaml := strings.Replace(validYAML, "log_level: DEBUG", "log_level: LOUD", 1)
	path := writeConfigFile(t, yaml)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system.log_level")
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()

	assert.NotContains(t, s, "test_api_key")
	assert.NotContains(t, s, "test_secret_key")
	assert.Contains(t, s, "[REDACTED]")
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
