package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ClampsInvalidValues(t *testing.T) {
	opts := Options{
		ServerURL:              " https://api.example.com/ ",
		StatusMessageMode:      "LOUD",
		GroupControlMode:       "Whitelist",
		TimeoutSeconds:         -5,
		MaxRetryAttempts:       -1,
		AutoCompressQuality:    500,
		RateLimitWindowSeconds: 0,
		MaxImagesPerResponse:   0,
		NapServerPort:          70000,
		GroupList:              []string{" 100 ", "", "200"},
	}.Normalize()

	assert.Equal(t, "https://api.example.com", opts.ServerURL)
	assert.Equal(t, StatusMinimal, opts.StatusMessageMode)
	assert.Equal(t, GroupWhitelist, opts.GroupControlMode)
	assert.Equal(t, 120*time.Second, opts.Timeout())
	assert.Equal(t, 0, opts.MaxRetryAttempts)
	assert.Equal(t, 85, opts.AutoCompressQuality)
	assert.Equal(t, time.Hour, opts.RateWindow())
	assert.Equal(t, 4, opts.MaxImagesPerResponse)
	assert.Equal(t, 0, opts.NapServerPort)
	assert.Equal(t, []string{"100", "200"}, opts.GroupList)
	assert.Equal(t, "https://api.example.com/v1/chat/completions", opts.ChatCompletionsURL())
}

func TestClone_DoesNotShareSlices(t *testing.T) {
	orig := Default()
	orig.GroupList = []string{"1"}
	clone := orig.Clone()
	clone.GroupList[0] = "2"

	if orig.GroupList[0] != "1" {
		t.Errorf("mutating the clone changed the original: %v", orig.GroupList)
	}
}

func TestRelayConfigured(t *testing.T) {
	opts := Default()
	if opts.RelayConfigured() {
		t.Fatal("default options should not have a relay")
	}
	opts.NapServerAddress = "10.0.0.2"
	if opts.NapRelayConfigured() {
		t.Error("address without port should not enable the NapCat relay")
	}
	opts.NapServerPort = 3658
	if !opts.RelayConfigured() {
		t.Error("address and port should enable the relay")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server_url: https://grok.example.com
model_id: ${TEST_GROK_MODEL:grok-test}
group_control_mode: whitelist
group_list: [100, 200]
rate_limit_max_calls: 9
status_message_mode: verbose
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("GROK_EDIT_API_KEY", "secret-from-env")
	t.Setenv("GROK_EDIT_TIMEOUT_SECONDS", "30")

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://grok.example.com", opts.ServerURL)
	assert.Equal(t, "grok-test", opts.ModelID)
	assert.Equal(t, GroupWhitelist, opts.GroupControlMode)
	assert.Equal(t, []string{"100", "200"}, opts.GroupList)
	assert.Equal(t, 9, opts.RateLimitMaxCalls)
	assert.Equal(t, StatusVerbose, opts.StatusMessageMode)
	assert.Equal(t, "secret-from-env", opts.APIKey)
	assert.Equal(t, 30, opts.TimeoutSeconds)
	assert.Equal(t, 1536, opts.AutoCompressMaxSide)
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "value")
	got := expandEnv("a=${TEST_EXPAND_SET} b=${TEST_EXPAND_UNSET:fallback} c=${TEST_EXPAND_UNSET}")
	want := "a=value b=fallback c=${TEST_EXPAND_UNSET}"
	if got != want {
		t.Errorf("expandEnv() = %q, want %q", got, want)
	}
}
