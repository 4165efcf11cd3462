package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// CSVParser streams comma-delimited files without ever holding more than one
// batch of rows in memory.
type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) SupportedTypes() []string {
	return []string{".csv", "csv", "text/csv"}
}

func (p *CSVParser) Parse(ctx context.Context, r io.Reader, opts Options, sink Sink) (int, error) {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headerRecord, err := reader.Read()
	if err == io.EOF {
		return 0, errors.New("no headers found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read csv headers: %w", err)
	}

	headers := make([]string, len(headerRecord))
	for i, header := range headerRecord {
		headers[i] = strings.ToLower(strings.TrimSpace(header))
	}

	if len(opts.ExpectedHeaders) > 0 {
		if err := validateHeaders(headers, opts.ExpectedHeaders); err != nil {
			return 0, err
		}
	}

	batchSize := opts.batchSize()
	batch := make([]Row, 0, batchSize)
	totalRows := 0

	for {
		if err := ctx.Err(); err != nil {
			return totalRows, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return totalRows, fmt.Errorf("failed to read csv row: %w", err)
		}

		totalRows++
		batch = append(batch, buildRow(headers, record, totalRows, opts))

		if len(batch) >= batchSize {
			if err := sink(batch); err != nil {
				return totalRows, err
			}
			batch = make([]Row, 0, batchSize)
		}
	}

	if len(batch) > 0 {
		if err := sink(batch); err != nil {
			return totalRows, err
		}
	}

	return totalRows, nil
}

// buildRow normalizes one record: date columns go through NormalizeDate
// (null on failure, never fatal), everything else is trimmed text. Cells the
// record does not cover stay null.
func buildRow(headers []string, record []string, rowNum int, opts Options) Row {
	row := make(Row, len(headers)+1)

	for i, header := range headers {
		if header == "" {
			continue
		}

		if i >= len(record) {
			row[header] = nil
			continue
		}

		row[header] = normalizeCell(header, record[i], rowNum, opts)
	}

	row[RowNumField] = rowNum
	return row
}

func normalizeCell(header, value string, rowNum int, opts Options) any {
	if opts.isDateColumn(header) {
		normalized, ok := NormalizeDate(value)
		if !ok {
			log.Printf("⚠️ row %d: unparseable date %q in column %s, storing null", rowNum, value, header)
			return nil
		}
		return normalized
	}

	return strings.TrimSpace(value)
}
