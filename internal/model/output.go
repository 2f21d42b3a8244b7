package model

import "time"

// Citation points at the passage of a source document that justifies a
// field's value.
type Citation struct {
	DocumentName string `json:"document_name"`
	PageNumber   int    `json:"page_number"`
	QuotedText   string `json:"quoted_text,omitempty"`
}

// ModelOutput is one model's extraction of one field for one case. Outputs
// are immutable facts; a re-run supersedes an earlier output for the same
// (case, field, model) tuple only when its ProducedAt is later.
type ModelOutput struct {
	CaseID     string    `json:"case_id"`
	FieldKey   string    `json:"field_key"`
	ModelID    string    `json:"model_id"`
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	Citation   Citation  `json:"citation"`
	ProducedAt time.Time `json:"produced_at"`
}

// FieldComparison is the derived per-field result of comparing two models'
// outputs. Missing lists the model IDs with no recorded output for the
// field; a missing output never counts as agreement.
type FieldComparison struct {
	FieldKey string        `json:"field_key"`
	Label    string        `json:"label"`
	Outputs  []ModelOutput `json:"outputs"`
	Agree    bool          `json:"agree"`
	Missing  []string      `json:"missing,omitempty"`
}
