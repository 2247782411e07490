package state

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpdateAndGet(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	if err := store.Update("api", "/srv/api/.env", "abc123", 7); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, found := store.Get("api")
	if !found {
		t.Fatal("Get returned found=false after Update")
	}
	if rec.Digest != "abc123" {
		t.Errorf("Digest: got %q, want %q", rec.Digest, "abc123")
	}
	if rec.VarCount != 7 {
		t.Errorf("VarCount: got %d, want 7", rec.VarCount)
	}
	if rec.Path != "/srv/api/.env" {
		t.Errorf("Path: got %q", rec.Path)
	}
	if time.Since(rec.SyncedAt) > time.Minute {
		t.Errorf("SyncedAt not recent: %v", rec.SyncedAt)
	}
}

func TestHasChanged(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	if !store.HasChanged("unknown", "h0") {
		t.Error("unknown service should report changed")
	}

	if err := store.Update("api", "/srv/api/.env", "h0", 1); err != nil {
		t.Fatal(err)
	}
	if store.HasChanged("api", "h0") {
		t.Error("matching digest should report unchanged")
	}
	if !store.HasChanged("api", "h1") {
		t.Error("differing digest should report changed")
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store := openTestStore(t, dir)
	if err := store.Update("worker", "/srv/worker/.env", "d1", 3); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openTestStore(t, dir)
	rec, found := reopened.Get("worker")
	if !found {
		t.Fatal("record lost across reopen")
	}
	if rec.Digest != "d1" || rec.VarCount != 3 {
		t.Errorf("unexpected record after reopen: %+v", rec)
	}
}

func TestVersionMismatchResets(t *testing.T) {
	dir := t.TempDir()

	store := openTestStore(t, dir)
	if err := store.Update("api", "/srv/api/.env", "h0", 2); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate an older daemon having written the file.
	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE meta SET value = '0.9.0' WHERE key = 'schema_version'`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	reset := openTestStore(t, dir)
	if _, found := reset.Get("api"); found {
		t.Error("incompatible state should have been discarded")
	}
	if len(reset.List()) != 0 {
		t.Errorf("expected empty state, got %v", reset.List())
	}
	if err := reset.Close(); err != nil {
		t.Fatal(err)
	}

	// The reset itself is persisted: a further reopen stays empty and valid.
	again := openTestStore(t, dir)
	if len(again.List()) != 0 {
		t.Error("reset was not persisted")
	}
}

func TestReset(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	if err := store.Update("a", "/a", "h", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Update("b", "/b", "h", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(store.List()) != 0 {
		t.Error("Reset left records behind")
	}
	if !store.HasChanged("a", "h") {
		t.Error("reset service should report changed")
	}
}

func TestListSorted(t *testing.T) {
	store := openTestStore(t, t.TempDir())

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := store.Update(name, "/"+name, "h", 1); err != nil {
			t.Fatal(err)
		}
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("got %d records", len(list))
	}
	if list[0].Service != "alpha" || list[1].Service != "mid" || list[2].Service != "zeta" {
		t.Errorf("not sorted: %v", list)
	}
}
