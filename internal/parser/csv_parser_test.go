package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectSink(batches *[][]Row) Sink {
	return func(batch []Row) error {
		copied := make([]Row, len(batch))
		copy(copied, batch)
		*batches = append(*batches, copied)
		return nil
	}
}

func TestCSVParserNormalizesRows(t *testing.T) {
	input := "Broker_Code, SCHEME_CODE ,reg_date\n" +
		"B001,S100,25/12/2024\n" +
		"B002,S200,25-12-2024\n" +
		"B003,S300,2024-12-25\n"

	var batches [][]Row
	p := NewCSVParser()
	total, err := p.Parse(context.Background(), strings.NewReader(input), Options{
		DateColumns: []string{"reg_date"},
	}, collectSink(&batches))

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 3)

	first := batches[0][0]
	assert.Equal(t, "B001", first["broker_code"])
	assert.Equal(t, "S100", first["scheme_code"])
	assert.Equal(t, 1, first[RowNumField])

	for i, row := range batches[0] {
		assert.Equal(t, "2024-12-25", row["reg_date"])
		assert.Equal(t, i+1, row[RowNumField])
	}
}

func TestCSVParserUnparseableDateBecomesNull(t *testing.T) {
	input := "name,reg_date\nalpha,not-a-date\n"

	var batches [][]Row
	total, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{
		DateColumns: []string{"reg_date"},
	}, collectSink(&batches))

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Nil(t, batches[0][0]["reg_date"])
	assert.Equal(t, "alpha", batches[0][0]["name"])
}

func TestCSVParserMissingHeaders(t *testing.T) {
	input := "brcode,min_amount\nB001,100\n"

	total, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{
		ExpectedHeaders: []string{"brcode", "scheme_code", "reg_date"},
	}, func(batch []Row) error { return nil })

	assert.Equal(t, 0, total)
	var missing *MissingHeadersError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"scheme_code", "reg_date"}, missing.Missing)
	assert.True(t, missing.Permanent())
}

func TestCSVParserPermissiveWithoutExpectedHeaders(t *testing.T) {
	input := "anything,goes\n1,2\n"

	var batches [][]Row
	total, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{}, collectSink(&batches))

	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCSVParserBatchingAndRowNumbers(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id\n")
	for i := 0; i < 5; i++ {
		sb.WriteString("x\n")
	}

	var batches [][]Row
	total, err := NewCSVParser().Parse(context.Background(), strings.NewReader(sb.String()), Options{
		BatchSize: 2,
	}, collectSink(&batches))

	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)

	// Row numbers are contiguous across batch boundaries.
	num := 0
	for _, batch := range batches {
		for _, row := range batch {
			num++
			assert.Equal(t, num, row[RowNumField])
		}
	}
}

func TestCSVParserSkipsByteOrderMark(t *testing.T) {
	input := "\xEF\xBB\xBFname\nalpha\n"

	var batches [][]Row
	_, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{}, collectSink(&batches))

	require.NoError(t, err)
	assert.Equal(t, "alpha", batches[0][0]["name"])
}

func TestCSVParserSinkErrorPropagates(t *testing.T) {
	input := "id\n1\n2\n"
	sinkErr := errors.New("write failed")

	_, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{}, func(batch []Row) error {
		return sinkErr
	})

	assert.ErrorIs(t, err, sinkErr)
}

func TestCSVParserShortRecordLeavesNulls(t *testing.T) {
	input := "a,b,c\n1,2\n"

	var batches [][]Row
	_, err := NewCSVParser().Parse(context.Background(), strings.NewReader(input), Options{}, collectSink(&batches))

	require.NoError(t, err)
	row := batches[0][0]
	assert.Equal(t, "1", row["a"])
	assert.Equal(t, "2", row["b"])
	assert.Nil(t, row["c"])
}
