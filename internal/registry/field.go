package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/settlemetrics/qc-service/internal/model"
)

// builtinFields is the default case schema. Order is display order.
var builtinFields = []model.FieldSpec{
	{Key: "caseName", Label: "Case Name", ValueType: model.TypeText},
	{Key: "docketNumber", Label: "Docket Number", ValueType: model.TypeText},
	{Key: "court", Label: "Court", ValueType: model.TypeText},
	{Key: "caseType", Label: "Case Type", ValueType: model.TypeEnum,
		EnumOptions: []string{"Securities", "Antitrust", "Consumer", "Employment", "Product Liability", "Environmental", "Other"}},
	{Key: "isClassAction", Label: "Class Action", ValueType: model.TypeBoolean},
	{Key: "filingDate", Label: "Filing Date", ValueType: model.TypeDate},
	{Key: "settlementDate", Label: "Settlement Date", ValueType: model.TypeDate},
	{Key: "settlementAmount", Label: "Settlement Amount", ValueType: model.TypeCurrency},
	{Key: "attorneyFeesPct", Label: "Attorney Fees %", ValueType: model.TypePercentage},
	{Key: "classSize", Label: "Class Size", ValueType: model.TypeNumber},
	{Key: "settlementComponents", Label: "Settlement Components", ValueType: model.TypeArray},
	{Key: "plaintiffCounsel", Label: "Plaintiff Counsel", ValueType: model.TypeArray},
	{Key: "judge", Label: "Presiding Judge", ValueType: model.TypeText},
}

// Builtin returns the default field registry.
func Builtin() *model.FieldRegistry {
	return model.NewFieldRegistry(builtinFields)
}

// Load reads a YAML list of field specs from path and returns an indexed
// registry. An empty path falls back to the builtin schema.
func Load(path string) (*model.FieldRegistry, error) {
	if path == "" {
		return Builtin(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read field file")
	}

	var fields []model.FieldSpec
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal field file")
	}
	if len(fields) == 0 {
		return nil, eris.New("registry: field file defines no fields")
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return nil, eris.New("registry: field with empty key")
		}
		if seen[f.Key] {
			return nil, eris.Errorf("registry: duplicate field key %q", f.Key)
		}
		seen[f.Key] = true
		if !f.ValueType.Valid() {
			return nil, eris.Errorf("registry: field %s has unknown value type %q", f.Key, f.ValueType)
		}
		if f.ValueType == model.TypeEnum && len(f.EnumOptions) == 0 {
			return nil, eris.Errorf("registry: enum field %s has no options", f.Key)
		}
	}

	return model.NewFieldRegistry(fields), nil
}
