package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_TIMEZONE", "UTC")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Chat.MatchWindow)
	assert.Equal(t, 800*time.Millisecond, cfg.Chat.ReplyDelay)
	assert.Equal(t, 5, cfg.WebSocket.MaxConnPerSession)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_DRIVER=Postgres\nCHAT_REPLY_DELAY=2s\nSTORE_TIMEZONE=UTC\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_DRIVER")
		os.Unsetenv("CHAT_REPLY_DELAY")
		os.Unsetenv("STORE_TIMEZONE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Chat.ReplyDelay)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORE_DRIVER", "mysql"},
		{"CHAT_MATCH_WINDOW", "soon"},
		{"STORE_TIMEZONE", "Mars/Olympus"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv("STORE_TIMEZONE", "UTC")
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" a, ,b,"))
	assert.Empty(t, SplitList(""))
}
