package parser

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// DefaultBatchSize bounds memory: rows are delivered to the sink in groups
// of at most this many, regardless of file size.
const DefaultBatchSize = 10000

// RowNumField is injected into every row with its 1-based position in the
// source file, assigned in read order.
const RowNumField = "row_num"

// Row maps a lower-cased, trimmed header name to its normalized cell value.
type Row map[string]any

// Sink receives each full batch plus the final partial one.
type Sink func(batch []Row) error

// Options control header validation and per-cell normalization.
type Options struct {
	// DateColumns are headers whose cells run through NormalizeDate.
	DateColumns []string
	// ExpectedHeaders fails the parse when any is absent. Empty skips
	// validation entirely.
	ExpectedHeaders []string
	// BatchSize defaults to DefaultBatchSize when <= 0.
	BatchSize int
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o Options) isDateColumn(header string) bool {
	for _, col := range o.DateColumns {
		if col == header {
			return true
		}
	}
	return false
}

// Parser streams a byte source into row batches and returns the total
// number of data rows processed.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, opts Options, sink Sink) (int, error)
	SupportedTypes() []string
}

// MissingHeadersError reports expected headers absent from the file.
type MissingHeadersError struct {
	Missing []string
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("missing headers: %s", strings.Join(e.Missing, ", "))
}

// Permanent marks the error as never retryable.
func (e *MissingHeadersError) Permanent() bool { return true }

func validateHeaders(headers []string, expected []string) error {
	var missing []string
	for _, want := range expected {
		found := false
		for _, have := range headers {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return &MissingHeadersError{Missing: missing}
	}
	return nil
}

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	registry := &Registry{
		parsers: make(map[string]Parser),
	}

	registry.Register(NewCSVParser())
	registry.Register(NewExcelParser())

	return registry
}

func (r *Registry) Register(parser Parser) {
	for _, contentType := range parser.SupportedTypes() {
		r.parsers[strings.ToLower(contentType)] = parser
	}
}

// GetParser resolves a parser by filename extension or content type.
func (r *Registry) GetParser(filePathOrType string) (Parser, bool) {
	ext := strings.ToLower(filepath.Ext(filePathOrType))
	if parser, ok := r.parsers[ext]; ok {
		return parser, true
	}

	contentType := strings.ToLower(filePathOrType)
	parser, ok := r.parsers[contentType]
	return parser, ok
}

func (r *Registry) SupportedTypes() []string {
	var types []string
	seen := make(map[string]bool)

	for contentType := range r.parsers {
		if !seen[contentType] {
			types = append(types, contentType)
			seen[contentType] = true
		}
	}

	return types
}
