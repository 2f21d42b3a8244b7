package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spec(key string, vt ValueType, opts ...string) FieldSpec {
	return FieldSpec{Key: key, Label: key, ValueType: vt, EnumOptions: opts}
}

func TestValidateValue_Text(t *testing.T) {
	s := spec("caseName", TypeText)

	require.NoError(t, ValidateValue(s, "Smith v. Acme Corp"))

	err := ValidateValue(s, 42.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want string")
}

func TestValidateValue_Numeric(t *testing.T) {
	s := spec("settlementAmount", TypeCurrency)

	require.NoError(t, ValidateValue(s, 2500000.0))
	require.NoError(t, ValidateValue(s, 2500000))
	require.NoError(t, ValidateValue(s, "$2,500,000"))

	err := ValidateValue(s, "not a number")
	require.Error(t, err)
}

func TestValidateValue_Boolean(t *testing.T) {
	s := spec("isClassAction", TypeBoolean)

	require.NoError(t, ValidateValue(s, true))
	require.Error(t, ValidateValue(s, "true"))
}

func TestValidateValue_Date(t *testing.T) {
	s := spec("filingDate", TypeDate)

	require.NoError(t, ValidateValue(s, "2024-03-15"))
	require.NoError(t, ValidateValue(s, "03/15/2024"))
	require.NoError(t, ValidateValue(s, "March 15, 2024"))

	require.Error(t, ValidateValue(s, "15th of March"))
	require.Error(t, ValidateValue(s, 20240315))
}

func TestValidateValue_Array(t *testing.T) {
	s := spec("settlementComponents", TypeArray)

	require.NoError(t, ValidateValue(s, []string{"cash fund", "injunctive relief"}))
	require.NoError(t, ValidateValue(s, []any{"cash fund"}))

	require.Error(t, ValidateValue(s, []any{"cash fund", 42}))
	require.Error(t, ValidateValue(s, "cash fund"))
}

func TestValidateValue_Enum(t *testing.T) {
	s := spec("caseType", TypeEnum, "securities", "antitrust", "consumer")

	require.NoError(t, ValidateValue(s, "securities"))
	require.NoError(t, ValidateValue(s, " Securities ")) // case/space-insensitive

	err := ValidateValue(s, "maritime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not one of")
}

func TestValidateValue_Nil(t *testing.T) {
	require.Error(t, ValidateValue(spec("caseName", TypeText), nil))
}

func TestNormalizeValue_Text(t *testing.T) {
	s := spec("court", TypeText)

	assert.Equal(t, "n.d. cal.", NormalizeValue(s, "  N.D. Cal.  "))
}

func TestNormalizeValue_Currency(t *testing.T) {
	s := spec("settlementAmount", TypeCurrency)

	// Formatting variants of the same amount normalize identically.
	assert.Equal(t, NormalizeValue(s, "$2,500,000"), NormalizeValue(s, 2500000.0))
	assert.Equal(t, NormalizeValue(s, "2500000.00"), NormalizeValue(s, 2500000))
}

func TestNormalizeValue_Percentage(t *testing.T) {
	s := spec("attorneyFeesPct", TypePercentage)

	assert.Equal(t, NormalizeValue(s, "33.3%"), NormalizeValue(s, 33.3))
}

func TestNormalizeValue_Date(t *testing.T) {
	s := spec("filingDate", TypeDate)

	assert.Equal(t, "2024-03-15", NormalizeValue(s, "03/15/2024"))
	assert.Equal(t, "2024-03-15", NormalizeValue(s, "March 15, 2024"))
}

func TestNormalizeValue_Array_OrderInsensitive(t *testing.T) {
	s := spec("settlementComponents", TypeArray)

	a := NormalizeValue(s, []string{"Cash Fund", "injunctive relief"})
	b := NormalizeValue(s, []any{"injunctive relief", "cash fund "})
	assert.Equal(t, a, b)
}

func TestEqualValues(t *testing.T) {
	tests := []struct {
		name string
		spec FieldSpec
		a, b any
		want bool
	}{
		{"text case-insensitive", spec("f", TypeText), "Smith v. Acme", "smith v. acme", true},
		{"text different", spec("f", TypeText), "Smith v. Acme", "Jones v. Acme", false},
		{"currency formats", spec("f", TypeCurrency), "$2,500,000", 2500000.0, true},
		{"currency differ", spec("f", TypeCurrency), 2500000.0, 2750000.0, false},
		{"bool equal", spec("f", TypeBoolean), true, true, true},
		{"bool differ", spec("f", TypeBoolean), true, false, false},
		{"date layouts", spec("f", TypeDate), "2024-03-15", "March 15, 2024", true},
		{"array as set", spec("f", TypeArray), []string{"a", "b"}, []string{"b", "a"}, true},
		{"enum fold", spec("f", TypeEnum, "securities"), "Securities", "securities", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EqualValues(tt.spec, tt.a, tt.b))
		})
	}
}

func TestFieldRegistry_Lookup(t *testing.T) {
	r := NewFieldRegistry([]FieldSpec{
		spec("caseName", TypeText),
		spec("settlementAmount", TypeCurrency),
	})

	require.NotNil(t, r.ByKey("caseName"))
	assert.Nil(t, r.ByKey("unknownField"))
	assert.Equal(t, []string{"caseName", "settlementAmount"}, r.Keys())
}
