package cli

import (
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/secret"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYORBIT_DATA_DIR env var, or ~/.keyorbit as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYORBIT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keyorbit"
}

// openStore opens the SQLite token store, defaulting to ~/.keyorbit
// if no data dir was specified.
func openStore() (*store.Store, error) {
	return store.NewStore(resolveDataDir())
}

// newCodec builds the secret codec from the configured lookup key and
// bcrypt cost. The lookup key has a dev fallback so local commands work
// out of the box; set KEYORBIT_AUTH_LOOKUP_KEY in production.
func newCodec() *secret.Codec {
	lookupKey := viper.GetString("auth.lookup_key")
	if lookupKey == "" {
		lookupKey = "keyorbit-dev-lookup-key-change-me"
	}
	return secret.NewCodec([]byte(lookupKey), viper.GetInt("auth.bcrypt_cost"))
}

// configDuration reads a duration setting, falling back when unset or
// malformed.
func configDuration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
