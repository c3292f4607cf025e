// Package state persists migration plans keyed by (schema, table) so a run
// can resume from its last completed phase instead of restarting blindly.
// Two backends exist: a JSON file in the project root for local use, and a
// database/sql store for shared state.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/partshift/partshift/database"
)

// StateFile is the filename for the default file-backed store.
const StateFile = ".partshift-state.json"

// ErrNotFound means no plan is persisted for the requested table.
var ErrNotFound = errors.New("no persisted plan")

// Store persists one record per (schema, table): the resolved plan, its
// current phase, and the terminal swap outcome once reached.
type Store interface {
	Load(ctx context.Context, schema, table string) (*database.MigrationPlan, error)
	Save(ctx context.Context, plan *database.MigrationPlan) error
	List(ctx context.Context) ([]*database.MigrationPlan, error)
	Delete(ctx context.Context, schema, table string) error
}

type fileDocument struct {
	Version string                             `json:"version"`
	Plans   map[string]*database.MigrationPlan `json:"plans"`
	Updated time.Time                          `json:"updated"`
}

// FileStore keeps all plans in a single JSON document, written atomically
// (temp file, then rename).
type FileStore struct {
	path string
}

// NewFileStore creates a store at path; empty path uses StateFile in the
// working directory.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = StateFile
	}
	return &FileStore{path: path}
}

func planKey(schema, table string) string {
	return schema + "." + table
}

func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileDocument{Version: "1", Plans: map[string]*database.MigrationPlan{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if doc.Plans == nil {
		doc.Plans = map[string]*database.MigrationPlan{}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	doc.Updated = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to save state file: %w", err)
	}
	return nil
}

// Load returns the persisted plan for (schema, table), or ErrNotFound.
func (s *FileStore) Load(_ context.Context, schema, table string) (*database.MigrationPlan, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	plan, ok := doc.Plans[planKey(schema, table)]
	if !ok {
		return nil, fmt.Errorf("%w for %s.%s", ErrNotFound, schema, table)
	}
	return plan, nil
}

// Save upserts the plan under its source identity.
func (s *FileStore) Save(_ context.Context, plan *database.MigrationPlan) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Plans[planKey(plan.Source.Schema, plan.Source.Name)] = plan
	return s.write(doc)
}

// List returns all persisted plans in key order.
func (s *FileStore) List(_ context.Context) ([]*database.MigrationPlan, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc.Plans))
	for k := range doc.Plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	plans := make([]*database.MigrationPlan, 0, len(keys))
	for _, k := range keys {
		plans = append(plans, doc.Plans[k])
	}
	return plans, nil
}

// Delete removes the plan for (schema, table), if present.
func (s *FileStore) Delete(_ context.Context, schema, table string) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	delete(doc.Plans, planKey(schema, table))
	return s.write(doc)
}
