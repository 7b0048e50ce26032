package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerEndpointAddr)
	assert.Equal(t, "walletsync.db", c.DatabasePath)
	assert.Equal(t, "127.0.0.1:7333", c.ListenAddr)
	assert.Equal(t, 30*time.Second, c.SyncInterval)
	assert.Equal(t, 10*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 500, c.QueueMaxLength)
	assert.Equal(t, 50, c.QueueBatchSize)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, 4, c.Concurrency)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ServerEndpointAddr)
	assert.Equal(t, 10*time.Second, cfg.OnlineCheckInterval)
}
