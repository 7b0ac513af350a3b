package config

import "time"

// Config holds runtime settings for the kith sync daemon.
//
// Fields:
//   - LocalDSN: path to the local SQLite cache database.
//   - RemoteEndpoint: base URL of the remote document store (http/https).
//   - AuthToken: bearer token; its subject claim is the account identity.
//   - FullSyncInterval: how often a periodic full sync is requested.
//   - Offline: run against an in-memory store instead of the remote.
type Config struct {
	LocalDSN         string
	RemoteEndpoint   string
	AuthToken        string
	FullSyncInterval time.Duration
	Offline          bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.LocalDSN = "kith.db"
	c.RemoteEndpoint = "http://127.0.0.1:8090"
	c.AuthToken = ""
	c.FullSyncInterval = 5 * time.Minute
	c.Offline = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
