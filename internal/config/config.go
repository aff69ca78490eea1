// Package config reads settings from the environment, optionally seeded from
// a .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads envFile into the process environment without overriding
// variables that are already set. With an empty envFile it tries ./.env and
// treats a missing file as no configuration.
func Load(envFile string) error {
	if envFile != "" {
		return godotenv.Load(envFile)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// String returns the value of key, or def when unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns key parsed as an integer, or def when unset or invalid.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns key parsed with strconv.ParseBool, or def when unset or
// invalid.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
