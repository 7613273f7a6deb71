package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// source reads canonical fields of an external record, honoring field-mapping
// overrides (internal field -> dot-separated raw key path)
type source struct {
	record    integration.ExternalRecord
	overrides map[string]string
}

func newSource(record integration.ExternalRecord, overrides map[string]string) *source {
	return &source{record: record, overrides: overrides}
}

// value returns the raw value of an internal field
func (s *source) value(field string) any {
	if path, ok := s.overrides[field]; ok && path != "" {
		return lookupPath(s.record.Raw, path)
	}
	return s.record.Field(field)
}

func (s *source) str(field string) string {
	return toString(s.value(field))
}

// optionalStr returns nil for empty values so merge keeps existing data
func (s *source) optionalStr(field string) any {
	v := strings.TrimSpace(s.str(field))
	if v == "" {
		return nil
	}
	return v
}

// name returns a normalized display name, nil when empty
func (s *source) name(field string) any {
	v := normalizeText(s.str(field))
	if v == "" {
		return nil
	}
	return v
}

// money returns a decimal amount formatted with two places, nil when absent
func (s *source) money(field string) (any, error) {
	d, ok, err := s.decimal(field)
	if err != nil || !ok {
		return nil, err
	}
	return d.StringFixed(2), nil
}

// rate returns a decimal without rounding, nil when absent
func (s *source) rate(field string) (any, error) {
	d, ok, err := s.decimal(field)
	if err != nil || !ok {
		return nil, err
	}
	return d.String(), nil
}

func (s *source) decimal(field string) (decimal.Decimal, bool, error) {
	return toDecimal(field, s.value(field))
}

// date returns an RFC 3339 date (YYYY-MM-DD), nil when absent
func (s *source) date(field string) (any, error) {
	t, ok, err := toTime(s.value(field))
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	if !ok {
		return nil, nil
	}
	return t.Format("2006-01-02"), nil
}

func (s *source) boolean(field string) any {
	switch v := s.value(field).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}

func (s *source) lines(field string) []map[string]any {
	switch v := s.value(field).(type) {
	case []map[string]any:
		return v
	case []any:
		result := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				result = append(result, m)
			}
		}
		return result
	default:
		return nil
	}
}

func (s *source) stringList(field string) []string {
	switch v := s.value(field).(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if str := toString(item); str != "" {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}

// lookupPath walks nested maps by a dot-separated key path
func lookupPath(raw map[string]any, path string) any {
	var current any = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toDecimal(field string, v any) (decimal.Decimal, bool, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case decimal.Decimal:
		return t, true, nil
	case float64:
		return decimal.NewFromFloat(t), true, nil
	case int:
		return decimal.NewFromInt(int64(t)), true, nil
	case int64:
		return decimal.NewFromInt(t), true, nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("field %s: invalid number %q", field, t)
		}
		return d, true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("field %s: invalid number %q", field, t)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("field %s: unsupported number type %T", field, v)
	}
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t, !t.IsZero(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, false, nil
		}
		return *t, true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("invalid date %q", t)
	default:
		return time.Time{}, false, fmt.Errorf("unsupported date type %T", v)
	}
}

// normalizeText folds full/half-width variants and compatibility characters and
// collapses whitespace, so that names from Japanese ledgers compare stably
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return strings.Join(strings.Fields(s), " ")
}
