package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const fileHeader = `# dockrun configuration.
# Relative paths resolve against this file's directory.
# Environment variables DOCKRUN_INPUT_DIR, DOCKRUN_OUTPUT_DIR, DOCKRUN_RECEPTOR,
# DOCKRUN_TOOL, DOCKRUN_CHUNK_SIZE, DOCKRUN_MAX_ATTEMPTS, DOCKRUN_MAX_CHUNKS,
# DOCKRUN_TIMEOUT, DOCKRUN_METRICS_FILE and DOCKRUN_JOURNAL override it.

`

// Encode renders cfg as commented TOML.
func Encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write creates path. It refuses to replace an existing file unless force is set.
func Write(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
		}
	}
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
