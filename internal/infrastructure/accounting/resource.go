package accounting

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/ledger"
)

// resource describes how one entity type is read from a platform
type resource struct {
	path       string
	collection string
	// paged is false for reference data returned in full on page one
	paged bool
	idKey   string
	updated string
	// fields maps canonical keys to dot-separated raw paths
	fields map[string]string
	// lines projects a nested array into canonical line_items
	linesKey string
	lines    map[string]string
	// finish derives canonical fields that are not a plain path lookup
	finish func(raw, fields map[string]any)
}

// project converts a decoded collection into external records
func (r resource) project(t ledger.EntityType, items []any, parseTime func(any) *time.Time) []integration.ExternalRecord {
	records := make([]integration.ExternalRecord, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fields := make(map[string]any, len(r.fields)+1)
		for canonical, path := range r.fields {
			if v := lookup(raw, path); v != nil {
				fields[canonical] = v
			}
		}
		if r.linesKey != "" {
			fields["line_items"] = projectLines(lookup(raw, r.linesKey), r.lines)
		}
		if r.finish != nil {
			r.finish(raw, fields)
		}

		rec := integration.ExternalRecord{
			ExternalID: stringOf(lookup(raw, r.idKey)),
			EntityType: t,
			Fields:     fields,
			Raw:        raw,
		}
		if r.updated != "" {
			rec.UpdatedAt = parseTime(lookup(raw, r.updated))
		}
		if rec.UpdatedAt != nil {
			rec.Revision = rec.UpdatedAt.UTC().Format(time.RFC3339)
		}
		records = append(records, rec)
	}
	return records
}

func projectLines(v any, paths map[string]string) []any {
	items, ok := v.([]any)
	if !ok {
		return []any{}
	}
	lines := make([]any, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := make(map[string]any, len(paths))
		for canonical, path := range paths {
			if v := lookup(raw, path); v != nil {
				line[canonical] = v
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// lookup walks nested maps by a dot-separated path
func lookup(raw map[string]any, path string) any {
	var current any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return strings.Trim(string(b), `"`)
	}
}

// statusFromAvailable maps an "available" flag to ACTIVE or ARCHIVED
func statusFromAvailable(raw, fields map[string]any) {
	if available, ok := raw["available"].(bool); ok {
		if available {
			fields["status"] = "ACTIVE"
		} else {
			fields["status"] = "ARCHIVED"
		}
	}
}
