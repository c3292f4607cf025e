// Package facts implements a catalog reader backed by a JSON facts file
// instead of a live connection. This is how plans are built and rendered
// for targets the tool cannot connect to directly: an operator exports the
// catalog facts, and partshift validates the document against a schema
// before trusting any of it.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/partshift/partshift/database"
)

// document is the on-disk shape of a facts file.
type document struct {
	Tables          []database.TableFacts `json:"tables"`
	ExistingObjects []string              `json:"existing_objects,omitempty"`
	RowCounts       map[string]int64      `json:"row_counts,omitempty"`
	PartitionCounts map[string]int        `json:"partition_counts,omitempty"`
	InvalidObjects  []database.ObjectRef  `json:"invalid_objects,omitempty"`
}

const factsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tables"],
  "properties": {
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["identity", "columns"],
        "properties": {
          "identity": {
            "type": "object",
            "required": ["schema", "name"],
            "properties": {
              "schema": {"type": "string"},
              "name": {"type": "string"}
            }
          },
          "columns": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["name", "data_type"],
              "properties": {
                "name": {"type": "string"},
                "data_type": {"type": "string"},
                "nullable": {"type": "boolean"},
                "is_large_object": {"type": "boolean"},
                "is_virtual": {"type": "boolean"}
              }
            }
          },
          "constraints": {"type": "array"},
          "indexes": {"type": "array"},
          "approx_size_bytes": {"type": "integer", "minimum": 0},
          "partitioned": {"type": "boolean"}
        }
      }
    },
    "existing_objects": {"type": "array", "items": {"type": "string"}},
    "row_counts": {"type": "object", "additionalProperties": {"type": "integer"}},
    "partition_counts": {"type": "object", "additionalProperties": {"type": "integer"}},
    "invalid_objects": {"type": "array"}
  }
}`

// Catalog implements database.CatalogReader from a facts file. It is
// read-only by construction.
type Catalog struct {
	doc document
}

// Load reads and schema-validates a facts file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts file: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(factsSchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate facts file: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("facts file %s is not valid: %s", path, strings.Join(details, "; "))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse facts file: %w", err)
	}
	return &Catalog{doc: doc}, nil
}

func key(schema, name string) string {
	return schema + "." + name
}

// GetTableFacts returns the recorded facts for (schema, name).
func (c *Catalog) GetTableFacts(_ context.Context, schema, name string) (*database.TableFacts, error) {
	for i := range c.doc.Tables {
		t := &c.doc.Tables[i]
		if t.Identity.Schema == schema && t.Identity.Name == name {
			copied := *t
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("facts file has no entry for table %s.%s", schema, name)
}

// ObjectExists reports whether the name appears among the recorded tables
// or the existing_objects list.
func (c *Catalog) ObjectExists(_ context.Context, schema, name string) (bool, error) {
	for _, t := range c.doc.Tables {
		if t.Identity.Schema == schema && t.Identity.Name == name {
			return true, nil
		}
	}
	for _, obj := range c.doc.ExistingObjects {
		if obj == key(schema, name) {
			return true, nil
		}
	}
	return false, nil
}

// PartitionCount returns the recorded count, or zero when absent.
func (c *Catalog) PartitionCount(_ context.Context, schema, name string) (int, error) {
	return c.doc.PartitionCounts[key(schema, name)], nil
}

// CountRows returns the recorded count, or zero when absent.
func (c *Catalog) CountRows(_ context.Context, schema, name string) (int64, error) {
	return c.doc.RowCounts[key(schema, name)], nil
}

// ListInvalidObjects returns the recorded invalid objects in the schema.
func (c *Catalog) ListInvalidObjects(_ context.Context, schema string) ([]database.ObjectRef, error) {
	var refs []database.ObjectRef
	for _, obj := range c.doc.InvalidObjects {
		if obj.Schema == schema {
			refs = append(refs, obj)
		}
	}
	return refs, nil
}
