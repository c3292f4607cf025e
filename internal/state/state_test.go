package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/partshift/partshift/database"
)

func storedPlan(schema, name string, phase database.PhaseState) *database.MigrationPlan {
	return &database.MigrationPlan{
		Dialect:     "postgres",
		Source:      database.TableIdentity{Schema: schema, Name: name},
		Replacement: database.TableIdentity{Schema: schema, Name: name + "_part"},
		Backup:      database.TableIdentity{Schema: schema, Name: name + "_old"},
		BridgeView:  database.TableIdentity{Schema: schema, Name: name + "_xv"},
		Phase:       phase,
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	plan := storedPlan("app", "orders", database.PhaseDataLoaded)
	plan.DeltaRounds = 3
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "app", "orders")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Phase != database.PhaseDataLoaded {
		t.Errorf("Expected phase data_loaded, got %s", loaded.Phase)
	}
	if loaded.DeltaRounds != 3 {
		t.Errorf("Expected 3 delta rounds, got %d", loaded.DeltaRounds)
	}
	if loaded.Replacement.Name != "orders_part" {
		t.Errorf("Expected replacement orders_part, got %s", loaded.Replacement.Name)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	_, err := store.Load(context.Background(), "app", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got: %v", err)
	}
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if err := store.Save(ctx, storedPlan("app", "orders", database.PhasePlanned)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, storedPlan("app", "orders", database.PhaseSwapped)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "app", "orders")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Phase != database.PhaseSwapped {
		t.Errorf("Save must upsert, got phase %s", loaded.Phase)
	}

	plans, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(plans) != 1 {
		t.Errorf("Expected a single plan after upsert, got %d", len(plans))
	}
}

func TestFileStore_ListSorted(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	for _, name := range []string{"zebra", "alpha", "middle"} {
		if err := store.Save(ctx, storedPlan("app", name, database.PhasePlanned)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	plans, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("Expected 3 plans, got %d", len(plans))
	}
	for i, want := range []string{"alpha", "middle", "zebra"} {
		if plans[i].Source.Name != want {
			t.Errorf("Expected plans[%d] = %s, got %s", i, want, plans[i].Source.Name)
		}
	}
}

func TestFileStore_Delete(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if err := store.Save(ctx, storedPlan("app", "orders", database.PhasePlanned)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "app", "orders"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "app", "orders"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got: %v", err)
	}

	// Deleting a missing plan is not an error.
	if err := store.Delete(ctx, "app", "orders"); err != nil {
		t.Errorf("Delete of a missing plan failed: %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	store := NewFileStore(path)

	if _, err := store.Load(context.Background(), "app", "orders"); err == nil {
		t.Fatal("Expected a parse error for a corrupt state file")
	}
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))

	if err := store.Save(context.Background(), storedPlan("app", "orders", database.PhasePlanned)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only state.json, got %v", names)
	}
}
