package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	// versionLayout sorts lexically in apply order
	versionLayout = "20060102150405"
)

var fileTemplate = template.Must(template.New("migration").Parse(
	`-- Migration: {{.Name}}{{if .Down}} (Rollback){{end}}
{{- if .Description}}
-- Description: {{.Description}}{{end}}

`))

// File is a generated up/down migration pair
type File struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// Create writes an empty up/down pair into dir, versioned by the current time
func Create(dir, name, description string, now time.Time) (*File, error) {
	slug := Slug(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations dir: %w", err)
	}

	f := &File{Version: now.UTC().Format(versionLayout), Name: slug}
	base := f.Version + "_" + slug
	f.UpPath = filepath.Join(dir, base+upSuffix)
	f.DownPath = filepath.Join(dir, base+downSuffix)

	if err := writeTemplate(f.UpPath, slug, description, false); err != nil {
		return nil, err
	}
	if err := writeTemplate(f.DownPath, slug, description, true); err != nil {
		_ = os.Remove(f.UpPath)
		return nil, err
	}
	return f, nil
}

func writeTemplate(p, name, description string, down bool) error {
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	execErr := fileTemplate.Execute(out, map[string]any{
		"Name":        name,
		"Description": description,
		"Down":        down,
	})
	return errors.Join(execErr, out.Close())
}

// Slug lowercases name and collapses separators into single underscores,
// dropping anything that is not a letter or digit
func Slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			pending = true
		}
	}
	return b.String()
}

// List returns the base names of every up migration in fsys, in apply order.
// An up file without a matching down file is an error.
func List(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*"+upSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ups))
	for _, up := range ups {
		base := strings.TrimSuffix(path.Base(up), upSuffix)
		if _, err := fs.Stat(fsys, base+downSuffix); err != nil {
			return nil, fmt.Errorf("migration %s has no rollback: %w", base, err)
		}
		names = append(names, base)
	}
	sort.Strings(names)
	return names, nil
}
