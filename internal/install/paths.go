// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the on-disk layout of the running daemon:
// config, state, log and runtime (socket/PID) directories.
package install

import (
	"os"
	"path/filepath"
)

const (
	// ConfigEnvPrefix prefixes every path-override environment variable.
	ConfigEnvPrefix = "TETHERD"

	// LowerName is the daemon's lowercase name, used to namespace the
	// control socket so it doesn't collide with other daemons in /run.
	LowerName = "tetherd"

	// SocketName is the control-plane socket's base filename.
	SocketName = "ctl.sock"

	// PIDName is the PID file's base filename.
	PIDName = "tetherd.pid"
)

var (
	DefaultConfigDir = "/etc/tetherd"
	DefaultStateDir  = "/var/lib/tetherd"
	DefaultLogDir    = "/var/log/tetherd"
	DefaultRunDir    = "/var/run/tetherd"
)

func envOrPrefix(suffix, leaf, fallback string) string {
	if dir := os.Getenv(ConfigEnvPrefix + "_" + suffix); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, leaf)
	}
	return fallback
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: TETHERD_CONFIG_DIR > TETHERD_PREFIX/config > DefaultConfigDir
func GetConfigDir() string { return envOrPrefix("CONFIG_DIR", "config", DefaultConfigDir) }

// GetStateDir returns the state directory, checking env vars first.
// Priority: TETHERD_STATE_DIR > TETHERD_PREFIX/state > DefaultStateDir
func GetStateDir() string { return envOrPrefix("STATE_DIR", "state", DefaultStateDir) }

// GetLogDir returns the log directory, checking env vars first.
// Priority: TETHERD_LOG_DIR > TETHERD_PREFIX/log > DefaultLogDir
func GetLogDir() string { return envOrPrefix("LOG_DIR", "log", DefaultLogDir) }

// GetRunDir returns the runtime directory for sockets and PID files.
// Priority: TETHERD_RUN_DIR > TETHERD_PREFIX/run > DefaultRunDir
func GetRunDir() string { return envOrPrefix("RUN_DIR", "run", DefaultRunDir) }

// GetSocketPath returns the full path to the control-plane socket.
func GetSocketPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_CTL_SOCKET"); path != "" {
		return path
	}
	return filepath.Join(GetRunDir(), LowerName+"-"+SocketName)
}

// GetPIDPath returns the full path to the daemon's PID file.
func GetPIDPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_PID_FILE"); path != "" {
		return path
	}
	return filepath.Join(GetRunDir(), PIDName)
}

// GetConfigFile returns the path to the primary config file.
// Priority: TETHERD_CONFIG_FILE > <GetConfigDir()>/tetherd.hcl
func GetConfigFile() string {
	if path := os.Getenv(ConfigEnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	return filepath.Join(GetConfigDir(), "tetherd.hcl")
}

// EnsureDirs creates the state/log/run directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{GetStateDir(), GetLogDir(), GetRunDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
