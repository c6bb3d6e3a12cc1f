// Package config reads the optional contractor.ini next to the working
// directory.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/ini.v1"
)

// DefaultFile is the ini file the driver looks for.
const DefaultFile = "contractor.ini"

// Config holds the tunables of the preprocessing run.
type Config struct {
	Threads int
}

// Load reads path if it exists. A missing file yields the defaults; a
// malformed file or key is a configuration error. Threads=0 (or any value
// above the machine's core count) means all available cores.
func Load(path string) (Config, error) {
	cfg := Config{Threads: runtime.NumCPU()}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	key := file.Section("").Key("Threads")
	if key.String() == "" {
		return cfg, nil
	}
	threads, err := key.Int()
	if err != nil {
		return Config{}, fmt.Errorf("%s: invalid Threads value %q", path, key.String())
	}
	if threads < 0 {
		return Config{}, fmt.Errorf("%s: Threads must not be negative", path)
	}
	if threads != 0 && threads <= runtime.NumCPU() {
		cfg.Threads = threads
	}
	return cfg, nil
}
