// Package filter evaluates per-entity-type record filters written in CEL.
//
// Expressions see these variables:
//
//	external_id  string
//	entity_type  string
//	updated_at   timestamp (zero when the platform reports none)
//	fields       map(string, dyn), the canonical fields
//	raw          map(string, dyn), the platform payload
//
// Example: fields.status == "ACTIVE" && updated_at > timestamp("2024-01-01T00:00:00Z")
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
)

// ErrInvalidFilter is returned when an expression does not compile to a boolean
var ErrInvalidFilter = shared.NewDomainError("INVALID_FILTER", "Filter expression is invalid")

// Compiler compiles filter expressions and caches the resulting programs
type Compiler struct {
	env   *cel.Env
	cache sync.Map
}

// NewCompiler creates a compiler with the record variables declared
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("external_id", cel.StringType),
		cel.Variable("entity_type", cel.StringType),
		cel.Variable("updated_at", cel.TimestampType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("raw", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile returns the program for expr. An empty expression yields a nil
// program, which matches every record.
func (c *Compiler) Compile(expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if cached, ok := c.cache.Load(expr); ok {
		return cached.(*Program), nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, shared.NewDomainError(ErrInvalidFilter.Code, fmt.Sprintf("%s: %v", expr, issues.Err()))
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, shared.NewDomainError(ErrInvalidFilter.Code,
			fmt.Sprintf("%s: expression must evaluate to bool, got %s", expr, out))
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, shared.NewDomainError(ErrInvalidFilter.Code, fmt.Sprintf("%s: %v", expr, err))
	}

	p := &Program{expr: expr, prg: prg}
	c.cache.Store(expr, p)
	return p, nil
}

// Program is a compiled filter
type Program struct {
	expr string
	prg  cel.Program
}

// String returns the source expression
func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Match reports whether the record passes the filter. A nil program matches everything.
func (p *Program) Match(rec integration.ExternalRecord) (bool, error) {
	if p == nil {
		return true, nil
	}
	var updatedAt time.Time
	if rec.UpdatedAt != nil {
		updatedAt = *rec.UpdatedAt
	}
	fields := plainMap(rec.Fields)
	raw := plainMap(rec.Raw)

	out, _, err := p.prg.Eval(map[string]any{
		"external_id": rec.ExternalID,
		"entity_type": rec.EntityType.String(),
		"updated_at":  updatedAt,
		"fields":      fields,
		"raw":         raw,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q on %s: %w", p.expr, rec.ExternalID, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("filter did not evaluate to bool")
	}
	return v, nil
}

// plainMap copies m with every json.Number replaced by int64 or float64.
// Platform payloads are decoded with UseNumber, which CEL has no overloads for.
func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return plainMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}
