package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional pwb config file. Flags given on the command
// line take precedence.
type FileConfig struct {
	Server string `toml:"server"`
	Name   string `toml:"name"`
	Voice  bool   `toml:"voice"`
	Brush  struct {
		Tool    string  `toml:"tool"`
		Size    float64 `toml:"size"`
		Color   string  `toml:"color"`
		Opacity float64 `toml:"opacity"`
	} `toml:"brush"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "config.toml")
}

// LoadFileConfig reads path, or the default location when path is empty.
// A missing default file yields an empty config; a missing explicit path
// is an error.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return FileConfig{}, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}
