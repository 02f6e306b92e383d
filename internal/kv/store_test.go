package kv

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "sarthi.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, "sarthiLanguage"); err != nil || ok {
				t.Fatalf("Get on empty store = %v, %v", ok, err)
			}

			if err := s.Set(ctx, "sarthiLanguage", "hindi"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "sarthiLanguage", "tamil"); err != nil {
				t.Fatalf("Set again: %v", err)
			}

			got, ok, err := s.Get(ctx, "sarthiLanguage")
			if err != nil || !ok || got != "tamil" {
				t.Errorf("Get = %q, %v, %v; want tamil", got, ok, err)
			}

			if err := s.Remove(ctx, "sarthiLanguage"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "sarthiLanguage"); ok {
				t.Error("key still present after Remove")
			}
			if err := s.Remove(ctx, "sarthiLanguage"); err != nil {
				t.Errorf("Remove of a missing key: %v", err)
			}
		})
	}
}

func TestStore_EmptyValueIsStored(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "k", ""); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, ok, err := s.Get(ctx, "k")
			if err != nil || !ok || got != "" {
				t.Errorf("Get = %q, %v, %v; want empty, true", got, ok, err)
			}
		})
	}
}

func TestStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "", "v"); !errors.Is(err, ErrEmptyKey) {
				t.Errorf("Set error = %v, want ErrEmptyKey", err)
			}
			if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
				t.Errorf("Get error = %v, want ErrEmptyKey", err)
			}
		})
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"sarthi_chapter_2", "sarthi_chapter_18", "geminiApiKey", "sarthi_chapter_%"} {
				if err := s.Set(ctx, k, "{}"); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			keys, err := s.Keys(ctx, "sarthi_chapter_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			want := []string{"sarthi_chapter_%", "sarthi_chapter_18", "sarthi_chapter_2"}
			if len(keys) != len(want) {
				t.Fatalf("Keys = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
				}
			}

			all, err := s.Keys(ctx, "")
			if err != nil || len(all) != 4 {
				t.Errorf("Keys(\"\") = %v, %v", all, err)
			}
		})
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Close()
	if err := s.Set(context.Background(), "k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v, want ErrClosed", err)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sarthi.db")

	s1, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Set(ctx, "geminiApiKey", "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, ok, err := s2.Get(ctx, "geminiApiKey")
	if err != nil || !ok || got != "secret" {
		t.Errorf("Get after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestOpenSQLiteRecordsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sarthi.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() {
		_ = sqlDB.Close()
	}()

	var count int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = '001_kv.sql'`).Scan(&count); err != nil {
		t.Fatalf("query migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("migration recorded %d times, want 1", count)
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	got := extractUpMigration(content)
	if got != "\nCREATE TABLE a (id TEXT);\n" {
		t.Errorf("extractUpMigration = %q", got)
	}
	if extractUpMigration("SELECT 1;") != "SELECT 1;" {
		t.Error("content without markers is returned as is")
	}
}
