package config

import (
	"encoding/json"
	"os"

	"github.com/kithapp/kith/internal/flagx"
	"github.com/kithapp/kith/internal/timex"
)

// JSONConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "5m"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JSONConfig struct {
	LocalDSN         *string         `json:"local_dsn"`
	RemoteEndpoint   *string         `json:"remote_endpoint"`
	AuthToken        *string         `json:"auth_token"`
	FullSyncInterval *timex.Duration `json:"full_sync_interval"`
	Offline          *bool           `json:"offline"`
}

// parseJSON overlays Config with values loaded from a JSON file.
//
// The file path comes from the -c/-config flags (flagx.JSONConfigFlags);
// when absent, no JSON is loaded. Only fields present in the file override
// the current values. Read or unmarshal errors panic (caller may recover).
//
// Intended usage is: defaults -> parseJSON -> parseFlags, where later
// stages override earlier ones.
func parseJSON(cfg *Config) {
	jsonConfigFile := flagx.JSONConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.LocalDSN != nil {
		cfg.LocalDSN = *jc.LocalDSN
	}
	if jc.RemoteEndpoint != nil {
		cfg.RemoteEndpoint = *jc.RemoteEndpoint
	}
	if jc.AuthToken != nil {
		cfg.AuthToken = *jc.AuthToken
	}
	if jc.FullSyncInterval != nil {
		cfg.FullSyncInterval = jc.FullSyncInterval.Std()
	}
	if jc.Offline != nil {
		cfg.Offline = *jc.Offline
	}
}
