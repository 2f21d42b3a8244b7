package model

// ValueType enumerates the value types a case field may carry.
type ValueType string

const (
	TypeText       ValueType = "text"
	TypeNumber     ValueType = "number"
	TypeCurrency   ValueType = "currency"
	TypePercentage ValueType = "percentage"
	TypeBoolean    ValueType = "boolean"
	TypeDate       ValueType = "date"
	TypeArray      ValueType = "array"
	TypeEnum       ValueType = "enum"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeCurrency, TypePercentage,
		TypeBoolean, TypeDate, TypeArray, TypeEnum:
		return true
	}
	return false
}

// FieldSpec describes one extractable attribute of a case.
type FieldSpec struct {
	Key         string    `json:"key" yaml:"key"`
	Label       string    `json:"label" yaml:"label"`
	ValueType   ValueType `json:"value_type" yaml:"value_type"`
	EnumOptions []string  `json:"enum_options,omitempty" yaml:"enum_options,omitempty"`
}

// FieldRegistry is an indexed, insertion-ordered collection of field specs.
// Insertion order is display order. Immutable after construction.
type FieldRegistry struct {
	Fields []FieldSpec
	byKey  map[string]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with an indexed key lookup.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		r.byKey[r.Fields[i].Key] = &r.Fields[i]
	}
	return r
}

// ByKey returns the field spec for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Keys returns all field keys in display order.
func (r *FieldRegistry) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i := range r.Fields {
		keys[i] = r.Fields[i].Key
	}
	return keys
}
