package wizard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateEnvironmentName(t *testing.T) {
	valid := []string{"local", "prod-eu", "warehouse_2", "STAGING"}
	for _, name := range valid {
		if err := ValidateEnvironmentName(name); err != nil {
			t.Errorf("Expected %q accepted: %v", name, err)
		}
	}

	invalid := []string{"", "has space", "dot.name", "slash/name", "ünïcode"}
	for _, name := range invalid {
		if err := ValidateEnvironmentName(name); err == nil {
			t.Errorf("Expected %q rejected", name)
		}
	}
}

func TestValidateDatabaseURL(t *testing.T) {
	if err := ValidateDatabaseURL("postgres://localhost:5432/app", "postgres"); err != nil {
		t.Errorf("Expected postgres:// accepted: %v", err)
	}
	if err := ValidateDatabaseURL("postgresql://localhost:5432/app", "postgres"); err != nil {
		t.Errorf("Expected postgresql:// accepted: %v", err)
	}
	if err := ValidateDatabaseURL("mysql://localhost/app", "postgres"); err == nil {
		t.Error("Expected a mysql URL rejected for the postgres dialect")
	}
	if err := ValidateDatabaseURL("", "postgres"); err == nil {
		t.Error("Expected an empty URL rejected")
	}
}

func TestValidateFactsPath(t *testing.T) {
	dir := t.TempDir()
	factsPath := filepath.Join(dir, "facts.json")
	if err := os.WriteFile(factsPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := ValidateFactsPath(factsPath); err != nil {
		t.Errorf("Expected an existing .json file accepted: %v", err)
	}
	if err := ValidateFactsPath(""); err == nil {
		t.Error("Expected an empty path rejected")
	}
	if err := ValidateFactsPath(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected a missing file rejected")
	}
	if err := ValidateFactsPath(dir); err == nil {
		t.Error("Expected a directory rejected")
	}

	textPath := filepath.Join(dir, "facts.txt")
	if err := os.WriteFile(textPath, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := ValidateFactsPath(textPath); err == nil {
		t.Error("Expected a non-JSON extension rejected")
	}
}

func TestValidateStateURL(t *testing.T) {
	cases := []struct {
		url   string
		store string
		valid bool
	}{
		{"", "file", true},
		{"postgres://localhost/state", "postgres", true},
		{"mysql://localhost/state", "postgres", false},
		{"state.db", "sqlite", true},
		{"", "sqlite", false},
		{"libsql://state.turso.io", "libsql", true},
		{"wss://state.turso.io", "libsql", true},
		{"https://state.turso.io", "libsql", false},
		{"anything", "redis", false},
	}

	for _, tc := range cases {
		err := ValidateStateURL(tc.url, tc.store)
		if tc.valid && err != nil {
			t.Errorf("ValidateStateURL(%q, %q) rejected: %v", tc.url, tc.store, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidateStateURL(%q, %q) accepted", tc.url, tc.store)
		}
	}
}

func TestProbeTarget_OracleChecksFactsFile(t *testing.T) {
	factsPath := filepath.Join(t.TempDir(), "facts.json")
	if err := os.WriteFile(factsPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := ProbeTarget(EnvironmentInput{Dialect: "oracle", FactsPath: factsPath}); err != nil {
		t.Errorf("Expected the oracle probe to accept an existing facts file: %v", err)
	}
	if err := ProbeTarget(EnvironmentInput{Dialect: "oracle", FactsPath: "missing.json"}); err == nil {
		t.Error("Expected the oracle probe to reject a missing facts file")
	}
	if err := ProbeTarget(EnvironmentInput{Dialect: "db2"}); err == nil {
		t.Error("Expected an unsupported dialect rejected")
	}
}
