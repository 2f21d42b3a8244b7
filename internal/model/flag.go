package model

import "time"

// FlagType categorizes a user-submitted data-quality complaint.
type FlagType string

const (
	FlagIncorrectData      FlagType = "incorrect-data"
	FlagMissingInformation FlagType = "missing-information"
	FlagOutdatedInfo       FlagType = "outdated-information"
	FlagCitationIssue      FlagType = "citation-issue"
	FlagCalculationError   FlagType = "calculation-error"
	FlagOther              FlagType = "other"
)

// Valid reports whether t is a known flag type.
func (t FlagType) Valid() bool {
	switch t {
	case FlagIncorrectData, FlagMissingInformation, FlagOutdatedInfo,
		FlagCitationIssue, FlagCalculationError, FlagOther:
		return true
	}
	return false
}

// FlagStatus is the triage state of a flag report.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagReviewing FlagStatus = "reviewing"
	FlagResolved  FlagStatus = "resolved"
	FlagRejected  FlagStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s FlagStatus) Terminal() bool {
	return s == FlagResolved || s == FlagRejected
}

// FieldContext optionally pins a flag to the specific field it disputes.
type FieldContext struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value,omitempty"`
}

// FlagReport is a user-submitted data-quality complaint. It is triaged
// independently of any review session for the same case.
type FlagReport struct {
	ID              string        `json:"id"`
	CaseID          string        `json:"case_id"`
	FieldContext    *FieldContext `json:"field_context,omitempty"`
	FlagType        FlagType      `json:"flag_type"`
	Description     string        `json:"description"`
	SubmittedBy     string        `json:"submitted_by,omitempty"` // empty = anonymous
	Status          FlagStatus    `json:"status"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
}
