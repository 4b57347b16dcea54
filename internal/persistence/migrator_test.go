package persistence

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestMigrationVersion(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"0001_init.up.sql", "0001"},
		{"0002_add_index.down.sql", "0002"},
		{"noversion", "noversion"},
	}
	for _, tc := range cases {
		if got := migrationVersion(tc.filename); got != tc.want {
			t.Errorf("migrationVersion(%q): got %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_later.up.sql",
		"0001_init.up.sql",
		"0001_init.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- noop"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := NewMigrator(nil, dir, zerolog.Nop())
	got, err := m.migrationFiles(".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	want := []string{"0001_init.up.sql", "0002_later.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("migrationFiles: got %v, want %v", got, want)
	}
}
