package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":3000", cfg.BasicConfig.ServerAddress)
	require.Equal(t, 10, cfg.BasicConfig.HistoryWindow)
	require.Equal(t, 3, cfg.BasicConfig.DigestCap)
	require.Equal(t, AttachByID, cfg.BasicConfig.IntentAttachMode)
	require.True(t, cfg.BasicConfig.Serialize())
	require.Equal(t, 10*time.Second, cfg.BasicConfig.CallTimeoutDuration())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"basic_config": {"server_address": ":9000", "digest_mode": "batched", "typing_delay_ms": 0},
		"instagram": {"verify_token": "from-file"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	require.Equal(t, DigestBatched, cfg.BasicConfig.DigestMode)
	require.Equal(t, time.Duration(0), cfg.BasicConfig.TypingDelay())
	require.Equal(t, 1500*time.Millisecond, cfg.BasicConfig.ProductTypingDelay())
	require.Equal(t, "from-file", cfg.Instagram.VerifyToken)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
basic_config:
  intent_attach_mode: content
  serialize_conversations: false
woocommerce:
  url: https://shop.example.com
providers:
  openai:
    model: gpt-4o-mini
`), 0o600))
	t.Setenv("WOOCOMMERCE_URL", "https://env.example.com")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, AttachByContent, cfg.BasicConfig.IntentAttachMode)
	require.False(t, cfg.BasicConfig.Serialize())
	require.Equal(t, "https://env.example.com", cfg.WooCommerce.URL)
	require.Equal(t, "sk-env", cfg.Providers["openai"].APIKey)
	require.Equal(t, "gpt-4o-mini", cfg.Providers["openai"].Model)
}

func TestLoadRejectsUnknownModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"basic_config": {"digest_mode": "carousel", "intent_attach_mode": "guess"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DigestPerProduct, cfg.BasicConfig.DigestMode)
	require.Equal(t, AttachByID, cfg.BasicConfig.IntentAttachMode)
}
