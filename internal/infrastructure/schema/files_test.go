package schema

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukgber-glitch/operate-sub002/migrations"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"create migration tables", "create_migration_tables"},
		{"Add-Ledger-Index", "add_ledger_index"},
		{"ADD__REFS", "add_refs"},
		{"  padded  ", "padded"},
		{"drop!@#refs", "droprefs"},
		{"_leading_and_trailing_", "leading_and_trailing"},
		{"v2 mappings", "v2_mappings"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slug(tt.input))
		})
	}
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	f, err := Create(dir, "Add mapping revision", "Track upstream revisions", now)
	require.NoError(t, err)

	assert.Equal(t, "20260304050607", f.Version)
	assert.Equal(t, "add_mapping_revision", f.Name)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_mapping_revision.up.sql"), f.UpPath)

	up, err := os.ReadFile(f.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: add_mapping_revision\n")
	assert.Contains(t, string(up), "-- Description: Track upstream revisions")

	down, err := os.ReadFile(f.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(Rollback)")

	t.Run("same version twice is rejected", func(t *testing.T) {
		_, err := Create(dir, "Add mapping revision", "", now)
		assert.Error(t, err)
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		_, err := Create(dir, "!!!", "", now)
		assert.Error(t, err)
	})

	t.Run("listed from disk", func(t *testing.T) {
		names, err := List(os.DirFS(dir))
		require.NoError(t, err)
		assert.Equal(t, []string{"20260304050607_add_mapping_revision"}, names)
	})
}

func TestList(t *testing.T) {
	t.Run("sorted pairs", func(t *testing.T) {
		fsys := fstest.MapFS{
			"20260102000000_b.up.sql":   {},
			"20260102000000_b.down.sql": {},
			"20260101000000_a.up.sql":   {},
			"20260101000000_a.down.sql": {},
			"README.md":                 {},
		}
		names, err := List(fsys)
		require.NoError(t, err)
		assert.Equal(t, []string{"20260101000000_a", "20260102000000_b"}, names)
	})

	t.Run("missing rollback", func(t *testing.T) {
		_, err := List(fstest.MapFS{"20260101000000_a.up.sql": {}})
		assert.ErrorContains(t, err, "no rollback")
	})

	t.Run("empty", func(t *testing.T) {
		names, err := List(fstest.MapFS{})
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("embedded schema", func(t *testing.T) {
		names, err := List(migrations.FS)
		require.NoError(t, err)
		assert.Contains(t, names, "20261016090000_create_migration_tables")
	})
}
