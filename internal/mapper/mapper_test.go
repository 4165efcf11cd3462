package mapper

import (
	"errors"
	"testing"

	"ingestd/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPullsMappedFields(t *testing.T) {
	schema := Schema{
		Name: "BSC200",
		Fields: map[string]string{
			"broker_code": "brcode",
			"min_amount":  "min_amount",
		},
	}

	row := parser.Row{"brcode": "B001", "min_amount": "500", "extra": "x"}
	mapped := schema.Apply(row)

	assert.Equal(t, "B001", mapped["broker_code"])
	assert.Equal(t, "500", mapped["min_amount"])
	_, hasExtra := mapped["extra"]
	assert.False(t, hasExtra)
}

func TestApplyAbsentSourceIsNull(t *testing.T) {
	schema := Schema{Name: "s", Fields: map[string]string{"dest": "missing"}}

	mapped := schema.Apply(parser.Row{"other": "1"})

	require.Contains(t, mapped, "dest")
	assert.Nil(t, mapped["dest"])
}

func TestApplyWithoutMappingPassesThrough(t *testing.T) {
	schema := Schema{Name: "generic"}
	assert.Nil(t, schema.Apply(parser.Row{"a": "1"}))
}

func TestResolveStrictSchemaWithoutMapping(t *testing.T) {
	registry := NewRegistry(false)
	registry.Register(Schema{Name: "STRICT_NO_MAP", Strict: true})

	_, err := registry.Resolve("STRICT_NO_MAP")

	var unknown *UnknownSchemaError
	require.True(t, errors.As(err, &unknown))
	assert.True(t, unknown.Permanent())
}

func TestResolveUnregisteredPermissive(t *testing.T) {
	registry := NewRegistry(false)

	schema, err := registry.Resolve("anything")

	require.NoError(t, err)
	assert.False(t, schema.HasMapping())
	assert.Nil(t, schema.ExpectedHeaders())
}

func TestResolveUnregisteredStrictByDefault(t *testing.T) {
	registry := NewRegistry(true)

	_, err := registry.Resolve("unheard-of")

	var unknown *UnknownSchemaError
	assert.True(t, errors.As(err, &unknown))
}

func TestDefaultsBSC200(t *testing.T) {
	registry := Defaults()

	schema, err := registry.Resolve("BSC200")
	require.NoError(t, err)
	assert.True(t, schema.HasMapping())
	assert.ElementsMatch(t,
		[]string{"brcode", "scheme_code", "min_amount", "reg_date"},
		schema.ExpectedHeaders())
	assert.True(t, schema.AllowsExtension("csv"))
	assert.False(t, schema.AllowsExtension("xlsx"))
}
