package qc

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/store"
)

// Detector compares two models' recorded outputs field by field. Comparison
// is derived on every call, never cached, so a re-recorded output is always
// reflected.
type Detector struct {
	store    store.Store
	registry *model.FieldRegistry
}

// NewDetector creates a Detector over the given store and field registry.
func NewDetector(st store.Store, reg *model.FieldRegistry) *Detector {
	return &Detector{store: st, registry: reg}
}

// Compare returns one FieldComparison per registry field, in registry order.
// A field missing an output from either model never counts as agreement;
// the absent model IDs are reported in Missing. The result is symmetric in
// model order.
func (d *Detector) Compare(ctx context.Context, caseID, modelA, modelB string) ([]model.FieldComparison, error) {
	outputs, err := d.store.ListOutputs(ctx, caseID)
	if err != nil {
		return nil, eris.Wrapf(err, "qc: compare %s", caseID)
	}
	if len(outputs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "case %s has no model outputs", caseID)
	}

	comparisons := make([]model.FieldComparison, 0, len(d.registry.Fields))
	for _, spec := range d.registry.Fields {
		perModel := outputs[spec.Key]

		fc := model.FieldComparison{FieldKey: spec.Key, Label: spec.Label}
		for _, modelID := range []string{modelA, modelB} {
			if out, ok := perModel[modelID]; ok {
				fc.Outputs = append(fc.Outputs, out)
			} else {
				fc.Missing = append(fc.Missing, modelID)
			}
		}
		if len(fc.Missing) == 0 {
			fc.Agree = model.EqualValues(spec, fc.Outputs[0].Value, fc.Outputs[1].Value)
		}
		comparisons = append(comparisons, fc)
	}
	return comparisons, nil
}
