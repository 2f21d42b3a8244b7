package store

import (
	"context"
	"time"

	"github.com/settlemetrics/qc-service/internal/model"
)

// SessionFilter specifies criteria for listing review sessions.
type SessionFilter struct {
	Status        model.SessionStatus `json:"status,omitempty"`
	ReviewerID    string              `json:"reviewer_id,omitempty"`
	ClaimedBefore *time.Time          `json:"claimed_before,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	Offset        int                 `json:"offset,omitempty"`
}

// FlagFilter specifies criteria for listing flag reports.
type FlagFilter struct {
	Status model.FlagStatus `json:"status,omitempty"`
	CaseID string           `json:"case_id,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the QC engine. Lookups return
// (nil, nil) when the entity does not exist; the engine layer maps that to
// its NotFound error.
type Store interface {
	// Model outputs
	RecordOutput(ctx context.Context, output model.ModelOutput) error
	GetOutput(ctx context.Context, caseID, fieldKey, modelID string) (*model.ModelOutput, error)
	ListOutputs(ctx context.Context, caseID string) (map[string]map[string]model.ModelOutput, error)

	// Review sessions
	CreateSession(ctx context.Context, session model.ReviewSession) error
	GetSession(ctx context.Context, caseID string) (*model.ReviewSession, error)
	// ClaimSession atomically moves a PENDING session to IN_REVIEW, seeding
	// reviewer and working record. Returns false when the session was not
	// PENDING (already claimed or past claiming).
	ClaimSession(ctx context.Context, caseID, reviewerID, baselineModelID string, workingRecord map[string]any, at time.Time) (bool, error)
	UpdateSession(ctx context.Context, session *model.ReviewSession) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.ReviewSession, error)

	// Transition audit trail
	AppendEvent(ctx context.Context, event model.TransitionEvent) error
	ListEvents(ctx context.Context, caseID string) ([]model.TransitionEvent, error)

	// Flag reports
	CreateFlag(ctx context.Context, flag model.FlagReport) error
	GetFlag(ctx context.Context, id string) (*model.FlagReport, error)
	UpdateFlag(ctx context.Context, flag *model.FlagReport) error
	ListFlags(ctx context.Context, filter FlagFilter) ([]model.FlagReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
