// Package config holds the sync core's tunables: chunk size, lock TTL,
// sync cooldown, and outbox retention, read through viper with the
// teacher's validate-with-fallback getter idiom (internal/config/sync.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v = newViper()

func newViper() *viper.Viper {
	vip := viper.New()
	vip.SetConfigName("sync")
	vip.SetConfigType("yaml")
	vip.AddConfigPath(".")
	vip.AddConfigPath("./config")
	vip.SetEnvPrefix("SYNCCORE")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = vip.ReadInConfig() // config file is optional; defaults apply if absent
	return vip
}

// GetString reads a raw string setting, preferring env vars (SYNCCORE_*)
// over the optional sync.yaml file, matching viper's normal precedence.
func GetString(key string) string {
	return v.GetString(key)
}

// Set overrides a setting in-process, for tests and cmd/syncctl flags.
func Set(key, value string) {
	v.Set(key, value)
}

// ResetForTesting discards all overrides and re-reads sync.yaml, giving
// each test a clean viper instance.
func ResetForTesting() {
	v = newViper()
}

// DownstreamChunkSize is the number of rows C10 applies per cooperative
// chunk before yielding to the scheduler (spec §4.7 step 8).
//
// Config key: downstream.chunk_size  Default: 200
func DownstreamChunkSize() int {
	raw := GetString("downstream.chunk_size")
	if raw == "" {
		return 200
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid downstream.chunk_size %q, using default 200\n", raw)
		return 200
	}
	return n
}

// LockTTL is the default record lock lifetime (spec §3 invariant I9).
//
// Config key: lock.ttl_seconds  Default: 300 (5 minutes)
func LockTTL() time.Duration {
	raw := GetString("lock.ttl_seconds")
	if raw == "" {
		return 5 * time.Minute
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid lock.ttl_seconds %q, using default 300\n", raw)
		return 5 * time.Minute
	}
	return time.Duration(n) * time.Second
}

// LockSweepInterval is how often the lock manager purges expired locks
// (spec §4.5: "Background sweep every minute").
//
// Config key: lock.sweep_interval_seconds  Default: 60
func LockSweepInterval() time.Duration {
	raw := GetString("lock.sweep_interval_seconds")
	if raw == "" {
		return time.Minute
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid lock.sweep_interval_seconds %q, using default 60\n", raw)
		return time.Minute
	}
	return time.Duration(n) * time.Second
}

// SyncCooldown is the minimum interval between connectivity-triggered sync
// runs (spec §4.9: "now − last_connection_triggered_sync > 2 min").
//
// Config key: sync.cooldown_seconds  Default: 120
func SyncCooldown() time.Duration {
	raw := GetString("sync.cooldown_seconds")
	if raw == "" {
		return 2 * time.Minute
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid sync.cooldown_seconds %q, using default 120\n", raw)
		return 2 * time.Minute
	}
	return time.Duration(n) * time.Second
}

// OutboxRetentionDays is how long a synced outbox item is kept before
// clear_synced_older_than removes it (spec §4.1).
//
// Config key: outbox.retention_days  Default: 30
func OutboxRetentionDays() int {
	raw := GetString("outbox.retention_days")
	if raw == "" {
		return 30
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid outbox.retention_days %q, using default 30\n", raw)
		return 30
	}
	return n
}

// ErrorMessageMaxLen truncates outbox error_message fields (spec §4.1:
// "truncated to 500 chars").
const ErrorMessageMaxLen = 500

// RemoteBaseURL is the sync server's base URL, consumed by
// internal/remoteapi.HTTPClient.
//
// Config key: remote.base_url  Default: "" (must be set)
func RemoteBaseURL() string {
	return strings.TrimRight(GetString("remote.base_url"), "/")
}
