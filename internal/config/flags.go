package config

import (
	"flag"
	"os"
	"time"

	"github.com/kithapp/kith/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   path to the local SQLite cache
//	-r string   base URL of the remote document store
//	-t string   bearer token used against the remote store
//	-i int      full sync interval in seconds
//	-offline    use an in-memory store instead of the remote
//
// Note: the function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-t", "-i", "-offline"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.LocalDSN, "d", cfg.LocalDSN, "path to the local SQLite cache")
	fs.StringVar(&cfg.RemoteEndpoint, "r", cfg.RemoteEndpoint, "base URL of the remote document store")
	fs.StringVar(&cfg.AuthToken, "t", cfg.AuthToken, "bearer token for the remote store")
	fullSyncInterval := fs.Int("i", int(cfg.FullSyncInterval.Seconds()), "full sync interval (in seconds)")
	fs.BoolVar(&cfg.Offline, "offline", cfg.Offline, "use an in-memory store instead of the remote")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.FullSyncInterval = time.Duration(*fullSyncInterval) * time.Second
}
