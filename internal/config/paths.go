// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package config

import (
	"os"
	"path/filepath"
)

const appName = "vendorhub"

// Dir returns the XDG config directory for vendorhub.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultPath returns the config file looked up when --config is not given.
func DefaultPath(getenv func(string) string) string {
	return filepath.Join(Dir(getenv), "config.yaml")
}

// ResolvePath returns explicit when set. Otherwise it returns DefaultPath if
// that file exists, or "" to run on flags and environment alone.
func ResolvePath(explicit string, getenv func(string) string) string {
	if explicit != "" {
		return explicit
	}
	path := DefaultPath(getenv)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
