package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// dateLayouts are accepted on input; dates normalize to the first layout.
var dateLayouts = []string{"2006-01-02", "01/02/2006", "January 2, 2006"}

// ValidateValue checks that v matches the field's declared value type.
// Numeric values may arrive as float64 (JSON), int, or a numeric string;
// arrays may arrive as []string or []any of strings.
func ValidateValue(spec FieldSpec, v any) error {
	if v == nil {
		return eris.Errorf("field %s: nil value", spec.Key)
	}
	switch spec.ValueType {
	case TypeText:
		if _, ok := v.(string); !ok {
			return typeErr(spec, v, "string")
		}
	case TypeNumber, TypeCurrency, TypePercentage:
		if _, err := toDecimal(v); err != nil {
			return typeErr(spec, v, "number")
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeErr(spec, v, "bool")
		}
	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return typeErr(spec, v, "date string")
		}
		if _, err := parseDate(s); err != nil {
			return eris.Wrapf(err, "field %s", spec.Key)
		}
	case TypeArray:
		if _, err := toStringSlice(v); err != nil {
			return typeErr(spec, v, "string array")
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return typeErr(spec, v, "enum string")
		}
		for _, opt := range spec.EnumOptions {
			if strings.EqualFold(strings.TrimSpace(s), opt) {
				return nil
			}
		}
		return eris.Errorf("field %s: %q is not one of %v", spec.Key, s, spec.EnumOptions)
	default:
		return eris.Errorf("field %s: unknown value type %q", spec.Key, spec.ValueType)
	}
	return nil
}

// NormalizeValue converts a valid value to its canonical comparison form:
// text is trimmed and case-folded, numeric types become canonical decimal
// strings, dates become ISO days, arrays become sorted trimmed sets.
// Values that fail validation normalize to a tagged raw form so comparison
// still terminates.
func NormalizeValue(spec FieldSpec, v any) string {
	switch spec.ValueType {
	case TypeText:
		if s, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(s))
		}
	case TypeNumber, TypeCurrency, TypePercentage:
		if d, err := toDecimal(v); err == nil {
			return canonDecimal(d)
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return "true"
			}
			return "false"
		}
	case TypeDate:
		if s, ok := v.(string); ok {
			if t, err := parseDate(s); err == nil {
				return t.Format(dateLayouts[0])
			}
		}
	case TypeArray:
		if items, err := toStringSlice(v); err == nil {
			set := make([]string, 0, len(items))
			for _, it := range items {
				set = append(set, strings.ToLower(strings.TrimSpace(it)))
			}
			sort.Strings(set)
			return strings.Join(set, "\x1f")
		}
	case TypeEnum:
		if s, ok := v.(string); ok {
			return strings.ToLower(strings.TrimSpace(s))
		}
	}
	return fmt.Sprintf("raw:%v", v)
}

// EqualValues reports whether two values are equal under the field's
// normalization rules.
func EqualValues(spec FieldSpec, a, b any) bool {
	return NormalizeValue(spec, a) == NormalizeValue(spec, b)
}

func typeErr(spec FieldSpec, v any, want string) error {
	return eris.Errorf("field %s: got %T, want %s", spec.Key, v, want)
}

// canonDecimal strips trailing fractional zeros so "2,500,000.00" and
// 2500000.0 normalize identically.
func canonDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case decimal.Decimal:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSuffix(s, "%")
		return decimal.NewFromString(s)
	}
	return decimal.Decimal{}, eris.Errorf("not numeric: %T", v)
}

func toStringSlice(v any) ([]string, error) {
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, eris.Errorf("array element is %T, want string", it)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, eris.Errorf("not an array: %T", v)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable date %q", s)
}
