package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvironmentName = "local"

// ResolvedEnvironment is one environment with concrete values after config,
// dotenv, and process environment have been merged.
type ResolvedEnvironment struct {
	Name        string
	DatabaseURL string
	Dialect     string
	FactsPath   string
	StateURL    string
	StatePath   string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveEnvironment merges the named environment's settings. A
// .env.<name> file next to the config file can supply or override
// DATABASE_URL and PARTSHIFT_STATE_URL; a plain process environment
// variable outranks both.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	resolved := &ResolvedEnvironment{Name: envName, Dialect: "postgres"}

	if config != nil {
		resolved.StatePath = config.StatePath
		resolved.StateURL = config.StateURL
		if envConfig, ok := config.Environments[envName]; ok {
			resolved.FromConfig = true
			resolved.DatabaseURL = envConfig.DatabaseURL
			resolved.FactsPath = envConfig.Facts
			if envConfig.Dialect != "" {
				resolved.Dialect = envConfig.Dialect
			}
		}
	}

	dotenvDir := "."
	if config != nil && config.ConfigDir() != "" {
		dotenvDir = config.ConfigDir()
	}
	dotenvPath := filepath.Join(dotenvDir, ".env."+envName)
	if _, err := os.Stat(dotenvPath); err == nil {
		values, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dotenvPath, err)
		}
		if v := values["DATABASE_URL"]; v != "" {
			resolved.DatabaseURL = v
			resolved.FromDotenv = true
		}
		if v := values["PARTSHIFT_STATE_URL"]; v != "" {
			resolved.StateURL = v
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		resolved.DatabaseURL = v
	}
	if v := os.Getenv("PARTSHIFT_STATE_URL"); v != "" {
		resolved.StateURL = v
	}

	return resolved, nil
}
