// Package mapper holds the static per-schema configuration: which source
// headers feed which staging fields, which columns carry dates, and whether
// the schema tolerates running without a configured mapping.
package mapper

import (
	"fmt"

	"ingestd/internal/parser"
)

// Schema describes one named upload type, resolved once at job start and
// never mutated afterwards.
type Schema struct {
	Name string
	// Fields maps destination field -> source header.
	Fields map[string]string
	// DateColumns are normalized to yyyy-mm-dd during parsing.
	DateColumns []string
	// Strict schemas refuse to run without a configured field mapping.
	Strict bool
	// AllowedExtensions limits upload file types, empty allows any.
	AllowedExtensions []string
}

// HasMapping reports whether the schema declares any field mapping.
func (s Schema) HasMapping() bool {
	return len(s.Fields) > 0
}

// ExpectedHeaders returns the source headers the mapping pulls from, used
// for upfront header validation. Nil when no mapping is configured.
func (s Schema) ExpectedHeaders() []string {
	if !s.HasMapping() {
		return nil
	}
	headers := make([]string, 0, len(s.Fields))
	for _, source := range s.Fields {
		headers = append(headers, source)
	}
	return headers
}

// Apply pulls each mapped source header out of the row into its destination
// field; absent sources map to null. Without a mapping the result is nil and
// the raw row stands alone.
func (s Schema) Apply(row parser.Row) map[string]any {
	if !s.HasMapping() {
		return nil
	}

	mapped := make(map[string]any, len(s.Fields))
	for destination, source := range s.Fields {
		value, ok := row[source]
		if !ok {
			mapped[destination] = nil
			continue
		}
		mapped[destination] = value
	}
	return mapped
}

// AllowsExtension reports whether the schema accepts files with the given
// extension (without the leading dot).
func (s Schema) AllowsExtension(ext string) bool {
	if len(s.AllowedExtensions) == 0 {
		return true
	}
	for _, allowed := range s.AllowedExtensions {
		if allowed == ext {
			return true
		}
	}
	return false
}

// UnknownSchemaError is raised when a strict schema has no registered
// mapping; it is a configuration fault, never retried.
type UnknownSchemaError struct {
	SchemaName string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("no field mapping configured for schema %s", e.SchemaName)
}

func (e *UnknownSchemaError) Permanent() bool { return true }

// Registry resolves schema names to their descriptors.
type Registry struct {
	schemas map[string]Schema
	// strictByDefault makes unregistered schema names fail Resolve instead
	// of passing rows through unmapped.
	strictByDefault bool
}

func NewRegistry(strictByDefault bool) *Registry {
	return &Registry{
		schemas:         make(map[string]Schema),
		strictByDefault: strictByDefault,
	}
}

func (r *Registry) Register(schema Schema) {
	r.schemas[schema.Name] = schema
}

// Resolve returns the descriptor for a schema name. Unregistered names get
// a permissive pass-through descriptor unless the registry is strict.
func (r *Registry) Resolve(name string) (Schema, error) {
	if schema, ok := r.schemas[name]; ok {
		if schema.Strict && !schema.HasMapping() {
			return Schema{}, &UnknownSchemaError{SchemaName: name}
		}
		return schema, nil
	}

	if r.strictByDefault {
		return Schema{}, &UnknownSchemaError{SchemaName: name}
	}

	return Schema{Name: name}, nil
}

// Defaults returns the registry shipped with the service. New upload types
// are added here, not discovered at runtime.
func Defaults() *Registry {
	registry := NewRegistry(false)

	registry.Register(Schema{
		Name: "BSC200",
		Fields: map[string]string{
			"broker_code":     "brcode",
			"bsc_scheme_code": "scheme_code",
			"min_amount":      "min_amount",
			"reg_date":        "reg_date",
		},
		DateColumns:       []string{"reg_date", "from_date", "to_date"},
		Strict:            true,
		AllowedExtensions: []string{"csv"},
	})

	registry.Register(Schema{
		Name:              "BSE_SCHEME",
		DateColumns:       []string{"reg_date"},
		AllowedExtensions: []string{"csv", "xlsx", "dbf"},
	})

	return registry
}
