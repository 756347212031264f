// Package config loads runner options from taskweaver.toml and the
// workspace .env files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the configuration file at the workspace root.
const FileName = "taskweaver.toml"

// EnvFiles are loaded, in order, before hashing so env inputs observe them.
// Variables already set in the process environment win.
var EnvFiles = []string{".env", ".env.local"}

// ErrInvalid marks a configuration file that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the runner options.
type Config struct {
	Parallel      int  `toml:"parallel"`
	CaptureStderr bool `toml:"captureStderr"`
	SkipCache     bool `toml:"skipCache"`
	PrefixOutput  bool `toml:"prefixOutput"`
	// CacheDirectory is relative to the workspace root unless absolute.
	CacheDirectory          string   `toml:"cacheDirectory"`
	SelectivelyHashTsConfig bool     `toml:"selectivelyHashTsConfig"`
	RuntimeCacheInputs      []string `toml:"runtimeCacheInputs"`

	Log LogConfig `toml:"log"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Parallel:       3,
		CacheDirectory: filepath.Join(".taskweaver", "cache"),
		Log:            LogConfig{Level: "info"},
	}
}

// Load reads <root>/taskweaver.toml over the defaults. A missing file is
// not an error.
func Load(root string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	if err := Decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays the TOML document data on cfg. Unknown keys are
// rejected.
func Decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrInvalid, strict.String())
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalid, FileName, err)
	}
	return cfg.Validate()
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	if c.Parallel < 1 {
		return fmt.Errorf("%w: parallel must be at least 1, got %d", ErrInvalid, c.Parallel)
	}
	if c.CacheDirectory == "" {
		return fmt.Errorf("%w: cacheDirectory must not be empty", ErrInvalid)
	}
	return nil
}

// CachePath resolves the cache directory against root.
func (c *Config) CachePath(root string) string {
	if filepath.IsAbs(c.CacheDirectory) {
		return c.CacheDirectory
	}
	return filepath.Join(root, c.CacheDirectory)
}

// LoadEnv loads the .env files present in root into the process
// environment and returns the ones it loaded.
func LoadEnv(root string) ([]string, error) {
	var loaded []string
	for _, name := range EnvFiles {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("%w: loading %s: %v", ErrInvalid, name, err)
		}
		loaded = append(loaded, name)
	}
	return loaded, nil
}
