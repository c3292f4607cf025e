package facts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validFacts = `{
  "tables": [
    {
      "identity": {"schema": "APP", "name": "ORDERS"},
      "columns": [
        {"name": "ORDER_ID", "data_type": "NUMBER(18)"},
        {"name": "CREATED_AT", "data_type": "DATE"},
        {"name": "PAYLOAD", "data_type": "CLOB", "nullable": true, "is_large_object": true}
      ],
      "constraints": [
        {"name": "ORDERS_PK", "kind": "primary", "columns": ["ORDER_ID"]}
      ],
      "approx_size_bytes": 26843545600,
      "partitioned": false
    }
  ],
  "existing_objects": ["APP.ORDERS_BKP"],
  "row_counts": {"APP.ORDERS": 1200000},
  "partition_counts": {"APP.ORDERS_PART": 1},
  "invalid_objects": [
    {"schema": "APP", "name": "ORDERS_V", "type": "VIEW"},
    {"schema": "OTHER", "name": "X", "type": "SYNONYM"}
  ]
}`

func writeFacts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoad_ValidDocument(t *testing.T) {
	catalog, err := Load(writeFacts(t, validFacts))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx := context.Background()

	facts, err := catalog.GetTableFacts(ctx, "APP", "ORDERS")
	if err != nil {
		t.Fatalf("GetTableFacts failed: %v", err)
	}
	if len(facts.Columns) != 3 {
		t.Errorf("Expected 3 columns, got %d", len(facts.Columns))
	}
	if !facts.Columns[2].IsLargeObject {
		t.Error("Expected PAYLOAD flagged as a large object")
	}
	if facts.ApproxSizeBytes != 26843545600 {
		t.Errorf("Expected the recorded size, got %d", facts.ApproxSizeBytes)
	}

	rows, err := catalog.CountRows(ctx, "APP", "ORDERS")
	if err != nil || rows != 1200000 {
		t.Errorf("Expected 1200000 rows, got %d (%v)", rows, err)
	}
	parts, err := catalog.PartitionCount(ctx, "APP", "ORDERS_PART")
	if err != nil || parts != 1 {
		t.Errorf("Expected 1 partition, got %d (%v)", parts, err)
	}
}

func TestLoad_ObjectExists(t *testing.T) {
	catalog, err := Load(writeFacts(t, validFacts))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		schema, name string
		want         bool
	}{
		{"APP", "ORDERS", true},
		{"APP", "ORDERS_BKP", true},
		{"APP", "ORDERS_PART", false},
		{"OTHER", "ORDERS", false},
	}
	for _, tc := range cases {
		got, err := catalog.ObjectExists(ctx, tc.schema, tc.name)
		if err != nil {
			t.Fatalf("ObjectExists(%s.%s) failed: %v", tc.schema, tc.name, err)
		}
		if got != tc.want {
			t.Errorf("ObjectExists(%s.%s) = %v, want %v", tc.schema, tc.name, got, tc.want)
		}
	}
}

func TestLoad_InvalidObjectsFilteredBySchema(t *testing.T) {
	catalog, err := Load(writeFacts(t, validFacts))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	refs, err := catalog.ListInvalidObjects(context.Background(), "APP")
	if err != nil {
		t.Fatalf("ListInvalidObjects failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "ORDERS_V" {
		t.Errorf("Expected only the APP schema view, got %v", refs)
	}
}

func TestLoad_MissingTable(t *testing.T) {
	catalog, err := Load(writeFacts(t, validFacts))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := catalog.GetTableFacts(context.Background(), "APP", "NOPE"); err == nil {
		t.Fatal("Expected an error for an unrecorded table")
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"no tables key", `{"row_counts": {}}`, "tables"},
		{"table without identity", `{"tables": [{"columns": [{"name": "a", "data_type": "DATE"}]}]}`, "identity"},
		{"table without columns", `{"tables": [{"identity": {"schema": "A", "name": "B"}}]}`, "columns"},
		{"empty columns", `{"tables": [{"identity": {"schema": "A", "name": "B"}, "columns": []}]}`, "columns"},
		{"column without type", `{"tables": [{"identity": {"schema": "A", "name": "B"}, "columns": [{"name": "a"}]}]}`, "data_type"},
	}

	for _, tc := range cases {
		_, err := Load(writeFacts(t, tc.content))
		if err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error mentioning %q, got: %v", tc.name, tc.want, err)
		}
	}
}

func TestLoad_NotJSON(t *testing.T) {
	if _, err := Load(writeFacts(t, "not json at all")); err == nil {
		t.Fatal("Expected an error for a non-JSON file")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}
