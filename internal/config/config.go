// Package config loads partshift.toml and resolves per-environment
// connection settings. Precedence everywhere is: explicit flag, then
// environment variable, then config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFile is the discovered configuration filename.
const ConfigFile = "partshift.toml"

// EnvironmentConfig describes one named environment.
type EnvironmentConfig struct {
	DatabaseURL string `toml:"database_url"`
	Dialect     string `toml:"dialect"`
	Facts       string `toml:"facts"`
}

// TableConfig is the user's target configuration for one table, keyed by
// "schema.table".
type TableConfig struct {
	PartitionColumn string   `toml:"partition_column"`
	Interval        string   `toml:"interval"`
	HashColumn      string   `toml:"hash_column"`
	HashCount       int      `toml:"hash_count"`
	Parallel        int      `toml:"parallel"`
	SeedBound       string   `toml:"seed_bound"`
	LobTablespaces  []string `toml:"lob_tablespaces"`
	Tablespace      string   `toml:"tablespace"`
	Compress        bool     `toml:"compress"`
	ReplacementName string   `toml:"replacement_name"`
	BackupName      string   `toml:"backup_name"`
	BridgeName      string   `toml:"bridge_name"`
	Overwrite       bool     `toml:"overwrite"`
}

// Config is the partshift.toml document.
type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	StatePath          string                       `toml:"state_path"`
	StateURL           string                       `toml:"state_url"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	Tables             map[string]TableConfig       `toml:"tables"`

	ConfigFilePath string `toml:"-"`
}

// ConfigDir returns the directory holding the discovered config file.
func (c *Config) ConfigDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// LoadConfig walks up from the working directory looking for
// partshift.toml, stopping at a project root marker. A missing file is not
// an error; the zero config is returned.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	dir := startDir
	for {
		configPath := filepath.Join(dir, ConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return LoadConfigFile(configPath)
		}

		if isProjectRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// LoadConfigFile reads one specific config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	config.ConfigFilePath = path
	return &config, nil
}

// isProjectRoot checks for common project boundary markers.
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// TableFor returns the table section for "schema.table", if present.
func (c *Config) TableFor(schema, table string) (TableConfig, bool) {
	if c.Tables == nil {
		return TableConfig{}, false
	}
	tc, ok := c.Tables[schema+"."+table]
	return tc, ok
}
