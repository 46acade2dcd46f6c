// Package config provides construction helpers shared by the service
// clients: environment loading with typed getters, AWS SDK configuration,
// and CUE-validated profile files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidProfiles indicates a profile file that fails schema or
// version validation.
var ErrInvalidProfiles = errors.New("config: invalid profiles")

// LoadEnv loads environment variables from dotenv files. Without
// arguments it loads ".env" from the working directory. Missing files
// are skipped; variables already set in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %s: %w", file, err)
		}
	}
	return nil
}

// Env returns the value of an environment variable, or fallback when it
// is unset or empty.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt returns an environment variable parsed as an integer, or
// fallback when unset or unparseable.
func EnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvBool returns an environment variable parsed as a boolean, or
// fallback when unset or unparseable. Accepts the strconv forms
// (1/0, t/f, true/false).
func EnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// EnvDuration returns an environment variable parsed as a time.Duration
// (e.g. "30s", "5m"), or fallback when unset or unparseable.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
