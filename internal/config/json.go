package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ilyakasyanov/walletsync/internal/flagx"
	"github.com/ilyakasyanov/walletsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify intervals either as strings like
// "30s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DatabasePath        string         `json:"database_path"`
	ListenAddr          string         `json:"listen_addr"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	QueueMaxLength      int            `json:"queue_max_length"`
	QueueBatchSize      int            `json:"queue_batch_size"`
	MaxRetries          int            `json:"max_retries"`
	Concurrency         int            `json:"concurrency"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags; with no path, nothing is loaded.
// Zero values in the file leave the existing setting untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.ListenAddr != "" {
		cfg.ListenAddr = jc.ListenAddr
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.QueueMaxLength != 0 {
		cfg.QueueMaxLength = jc.QueueMaxLength
	}
	if jc.QueueBatchSize != 0 {
		cfg.QueueBatchSize = jc.QueueBatchSize
	}
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.Concurrency != 0 {
		cfg.Concurrency = jc.Concurrency
	}
}
