// Package report builds the human-readable views over finished and
// in-flight QC state: the per-case comparison view and the multi-section
// settlement export.
package report

import (
	"context"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/qc"
)

// FieldResolution classifies how a compared field stands in the session.
type FieldResolution string

const (
	ResolutionAgreed     FieldResolution = "agreed"
	ResolutionEdited     FieldResolution = "edited"
	ResolutionConfirmed  FieldResolution = "confirmed"
	ResolutionUnresolved FieldResolution = "unresolved"
)

// ComparisonRow is one field of the comparison view.
type ComparisonRow struct {
	Comparison   model.FieldComparison `json:"comparison"`
	WorkingValue any                   `json:"working_value,omitempty"`
	Resolution   FieldResolution       `json:"resolution"`
}

// ComparisonView joins the discrepancy detector's output with the review
// session's working record and change log for display or export.
type ComparisonView struct {
	CaseID  string               `json:"case_id"`
	Session *model.ReviewSession `json:"session"`
	Rows    []ComparisonRow      `json:"rows"`
}

// Assembler renders comparison views from the engine's state.
type Assembler struct {
	engine *qc.Engine
}

// NewAssembler creates an Assembler over the given engine.
func NewAssembler(engine *qc.Engine) *Assembler {
	return &Assembler{engine: engine}
}

// RenderComparison builds the comparison view for one case. The comparison
// is re-derived from current store contents on every call.
func (a *Assembler) RenderComparison(ctx context.Context, caseID string) (*ComparisonView, error) {
	modelA, modelB := a.engine.Models()
	comparisons, err := a.engine.Detector().Compare(ctx, caseID, modelA, modelB)
	if err != nil {
		return nil, err
	}
	sess, err := a.engine.Session(ctx, caseID)
	if err != nil {
		return nil, err
	}

	changed := sess.ChangedFields()
	confirmed := sess.ConfirmedFields()

	rows := make([]ComparisonRow, 0, len(comparisons))
	for _, fc := range comparisons {
		row := ComparisonRow{Comparison: fc}
		if v, ok := sess.WorkingRecord[fc.FieldKey]; ok {
			row.WorkingValue = v
		}
		switch {
		case fc.Agree:
			row.Resolution = ResolutionAgreed
		case changed[fc.FieldKey]:
			row.Resolution = ResolutionEdited
		case confirmed[fc.FieldKey]:
			row.Resolution = ResolutionConfirmed
		default:
			row.Resolution = ResolutionUnresolved
		}
		rows = append(rows, row)
	}

	return &ComparisonView{CaseID: caseID, Session: sess, Rows: rows}, nil
}
