package model

import "time"

// SessionStatus is the lifecycle state of a review session.
type SessionStatus string

const (
	StatusPending            SessionStatus = "PENDING"
	StatusInReview           SessionStatus = "IN_REVIEW"
	StatusChangesRequested   SessionStatus = "CHANGES_REQUESTED"
	StatusReviewerApproved   SessionStatus = "REVIEWER_APPROVED"
	StatusSupervisorApproved SessionStatus = "SUPERVISOR_APPROVED"
	StatusRejected           SessionStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusSupervisorApproved || s == StatusRejected
}

// Editable reports whether the assigned reviewer may mutate the working
// record in this status.
func (s SessionStatus) Editable() bool {
	return s == StatusInReview || s == StatusChangesRequested
}

// ChangeEntry is an immutable audit record of one working-record edit.
type ChangeEntry struct {
	ID            string    `json:"id"`
	FieldKey      string    `json:"field_key"`
	PreviousValue any       `json:"previous_value"`
	NewValue      any       `json:"new_value"`
	Annotation    string    `json:"annotation"`
	Citation      *Citation `json:"citation,omitempty"`
	AuthorID      string    `json:"author_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// FieldConfirmation is an explicit no-op acknowledgment that a reviewer saw
// a disagreeing field and accepts the baseline value as-is.
type FieldConfirmation struct {
	FieldKey  string    `json:"field_key"`
	AuthorID  string    `json:"author_id"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReviewSession is the adjudication unit for one case.
type ReviewSession struct {
	CaseID          string              `json:"case_id"`
	Status          SessionStatus       `json:"status"`
	ReviewerID      string              `json:"reviewer_id,omitempty"`
	SupervisorID    string              `json:"supervisor_id,omitempty"`
	BaselineModelID string              `json:"baseline_model_id,omitempty"`
	WorkingRecord   map[string]any      `json:"working_record"`
	ChangeLog       []ChangeEntry       `json:"change_log"`
	Confirmations   []FieldConfirmation `json:"confirmations,omitempty"`
	ReviewNotes     string              `json:"review_notes,omitempty"`
	SupervisorNotes string              `json:"supervisor_notes,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// ChangedFields returns the set of field keys with at least one change entry.
func (s *ReviewSession) ChangedFields() map[string]bool {
	set := make(map[string]bool, len(s.ChangeLog))
	for _, e := range s.ChangeLog {
		set[e.FieldKey] = true
	}
	return set
}

// ConfirmedFields returns the set of field keys explicitly confirmed.
func (s *ReviewSession) ConfirmedFields() map[string]bool {
	set := make(map[string]bool, len(s.Confirmations))
	for _, c := range s.Confirmations {
		set[c.FieldKey] = true
	}
	return set
}

// Decision is a supervisor's verdict on a reviewer-approved session.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// TransitionEvent records one status transition for audit.
type TransitionEvent struct {
	ID      string        `json:"id"`
	CaseID  string        `json:"case_id"`
	From    SessionStatus `json:"from"`
	To      SessionStatus `json:"to"`
	ActorID string        `json:"actor_id"`
	At      time.Time     `json:"at"`
}
