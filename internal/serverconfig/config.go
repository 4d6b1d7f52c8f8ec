// Package serverconfig implements TOML configuration loading for the Logos
// server binary: listen address, durable store path, and upload directory.
// Client configuration is JSON (internal/clientconfig) per spec.md §6; the
// server side is unspecified by spec.md and uses TOML, the ambient
// convention this repository's sync engine has always used for its own
// configuration.
package serverconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the Logos server's top-level configuration.
type Config struct {
	Listen     string `toml:"listen"`
	DBPath     string `toml:"db_path"`
	UploadsDir string `toml:"uploads_dir"`
	LogLevel   string `toml:"log_level"`
}

const (
	defaultListen     = ":8443"
	defaultDBPath     = "logos-server.db"
	defaultUploadsDir = "uploads"
	defaultLogLevel   = "info"
)

// Default returns a Config populated with safe defaults, used both as the
// decode target (so unset TOML keys retain defaults) and as the fallback
// when no config file is given.
func Default() *Config {
	return &Config{
		Listen:     defaultListen,
		DBPath:     defaultDBPath,
		UploadsDir: defaultUploadsDir,
		LogLevel:   defaultLogLevel,
	}
}

// Load reads and decodes a TOML config file at path, starting from
// defaults so any keys the file omits keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("serverconfig: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("serverconfig: parsing %s: %w", path, err)
	}

	if cfg.Listen == "" {
		return nil, fmt.Errorf("serverconfig: listen address must not be empty")
	}

	return cfg, nil
}
