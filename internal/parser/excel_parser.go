package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExcelParser reads the first sheet of an xlsx workbook through the
// streaming row iterator, producing the same row contract as the CSV path.
type ExcelParser struct{}

func NewExcelParser() *ExcelParser {
	return &ExcelParser{}
}

func (p *ExcelParser) SupportedTypes() []string {
	return []string{".xlsx", "excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
}

func (p *ExcelParser) Parse(ctx context.Context, r io.Reader, opts Options, sink Sink) (int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, errors.New("excel file has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return 0, errors.New("no headers found")
	}
	headerRecord, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read xlsx headers: %w", err)
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

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return totalRows, err
		}

		record, err := rows.Columns()
		if err != nil {
			return totalRows, fmt.Errorf("failed to read xlsx row: %w", err)
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
	if err := rows.Error(); err != nil {
		return totalRows, fmt.Errorf("xlsx row stream failed: %w", err)
	}

	if len(batch) > 0 {
		if err := sink(batch); err != nil {
			return totalRows, err
		}
	}

	return totalRows, nil
}
