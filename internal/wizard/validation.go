package wizard

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// ValidateEnvironmentName checks if an environment name is usable as a
// TOML section key and a .env file suffix.
func ValidateEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name cannot be empty")
	}

	for _, ch := range name {
		isValid := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-'
		if !isValid {
			return fmt.Errorf("environment name must contain only letters, numbers, underscores, and hyphens")
		}
	}

	return nil
}

// ValidateDatabaseURL checks that a connection string has the scheme the
// dialect expects.
func ValidateDatabaseURL(databaseURL, dialect string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL cannot be empty")
	}

	if dialect == "postgres" {
		if !strings.HasPrefix(databaseURL, "postgres://") &&
			!strings.HasPrefix(databaseURL, "postgresql://") {
			return fmt.Errorf("PostgreSQL connection string must start with postgres:// or postgresql://")
		}
	}

	return nil
}

// ValidateFactsPath checks that an Oracle facts file exists and looks like
// a JSON document. Full schema validation happens at plan time.
func ValidateFactsPath(path string) error {
	if path == "" {
		return fmt.Errorf("facts file path cannot be empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("facts file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("facts file path is a directory: %s", path)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return fmt.Errorf("facts file must be a .json file")
	}

	return nil
}

// ValidateStateURL checks a plan-store URL against the chosen store kind.
func ValidateStateURL(stateURL, store string) error {
	switch store {
	case "file":
		return nil
	case "postgres":
		if !strings.HasPrefix(stateURL, "postgres://") &&
			!strings.HasPrefix(stateURL, "postgresql://") {
			return fmt.Errorf("PostgreSQL state URL must start with postgres:// or postgresql://")
		}
	case "sqlite":
		if stateURL == "" {
			return fmt.Errorf("SQLite state path cannot be empty")
		}
	case "libsql":
		if !strings.HasPrefix(stateURL, "libsql://") && !strings.HasPrefix(stateURL, "wss://") {
			return fmt.Errorf("libSQL state URL must start with libsql:// or wss://")
		}
	default:
		return fmt.Errorf("unsupported state store: %s", store)
	}
	return nil
}

// ProbeTarget checks that the configured target is reachable. For postgres
// it opens a connection and pings; for oracle it checks the facts file.
func ProbeTarget(env EnvironmentInput) error {
	switch env.Dialect {
	case "postgres":
		db, err := sql.Open("postgres", env.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open connection: %w", err)
		}
		defer func() { _ = db.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		return nil

	case "oracle":
		return ValidateFactsPath(env.FactsPath)

	default:
		return fmt.Errorf("unsupported dialect: %s", env.Dialect)
	}
}
