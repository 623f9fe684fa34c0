package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional subvol configuration file.
type Config struct {
	Swap   SwapConfig   `toml:"swap"`
	List   ListConfig   `toml:"list"`
	Delete DeleteConfig `toml:"delete"`
}

// SwapConfig holds defaults for subvol swap.
type SwapConfig struct {
	Confirm   *bool   `toml:"confirm"`
	TmpSuffix *string `toml:"tmp_suffix"`
	Journal   *bool   `toml:"journal"`
}

// ListConfig holds defaults for subvol list.
type ListConfig struct {
	Output *string `toml:"output"`
}

// DeleteConfig holds defaults for subvol delete.
type DeleteConfig struct {
	// Commit is "", "after" or "each".
	Commit *string `toml:"commit"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "subvol", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Swap.TmpSuffix != nil && *c.Swap.TmpSuffix == "" {
		return errors.New("swap.tmp_suffix must not be empty")
	}
	if c.Delete.Commit != nil {
		switch *c.Delete.Commit {
		case "", "after", "each":
		default:
			return fmt.Errorf("delete.commit: unknown value %q", *c.Delete.Commit)
		}
	}
	return nil
}
