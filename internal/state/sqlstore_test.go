package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/partshift/partshift/database"
)

func TestDetectDriver(t *testing.T) {
	cases := []struct {
		dsn  string
		want string
	}{
		{"postgres://localhost:5432/state", "postgres"},
		{"postgresql://localhost:5432/state", "postgres"},
		{"libsql://state.turso.io?authToken=x", "libsql"},
		{"wss://state.turso.io", "libsql"},
		{"state.db", "sqlite"},
		{"file:state.db?cache=shared", "sqlite"},
	}
	for _, tc := range cases {
		if got := DetectDriver(tc.dsn); got != tc.want {
			t.Errorf("DetectDriver(%q) = %s, want %s", tc.dsn, got, tc.want)
		}
	}
}

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_RoundTrip(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	plan := storedPlan("app", "orders", database.PhaseIndexed)
	plan.Outcome = database.SwapCompensatedRollback
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "app", "orders")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Phase != database.PhaseIndexed {
		t.Errorf("Expected phase indexed, got %s", loaded.Phase)
	}
	if loaded.Outcome != database.SwapCompensatedRollback {
		t.Errorf("Expected the swap outcome persisted, got %s", loaded.Outcome)
	}
}

func TestSQLStore_LoadMissing(t *testing.T) {
	store := openSQLiteStore(t)

	_, err := store.Load(context.Background(), "app", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got: %v", err)
	}
}

func TestSQLStore_UpsertAndList(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	for _, name := range []string{"zebra", "alpha"} {
		if err := store.Save(ctx, storedPlan("app", name, database.PhasePlanned)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := store.Save(ctx, storedPlan("app", "alpha", database.PhaseSwapped)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	plans, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("Expected 2 plans after upsert, got %d", len(plans))
	}
	if plans[0].Source.Name != "alpha" || plans[1].Source.Name != "zebra" {
		t.Errorf("Expected plans ordered by table, got %s, %s", plans[0].Source.Name, plans[1].Source.Name)
	}
	if plans[0].Phase != database.PhaseSwapped {
		t.Errorf("Upsert must replace the stored phase, got %s", plans[0].Phase)
	}
}

func TestSQLStore_Delete(t *testing.T) {
	store := openSQLiteStore(t)
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
	if err := store.Delete(ctx, "app", "orders"); err != nil {
		t.Errorf("Delete of a missing plan failed: %v", err)
	}
}
