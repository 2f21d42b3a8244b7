// Package triage implements the flag-report workflow: user-submitted
// data-quality complaints moving pending -> reviewing -> resolved/rejected.
// It is deliberately independent of the review-session state machine; a
// flag on a case under review neither blocks nor advances that review.
package triage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/store"
)

// Queue manages flag reports. All transitions are admin-driven; nothing
// moves automatically.
type Queue struct {
	store store.Store
}

// NewQueue creates a Queue over the given store.
func NewQueue(st store.Store) *Queue {
	return &Queue{store: st}
}

// Submit files a new flag report. Status always starts pending; submitter
// may be empty for anonymous reports.
func (q *Queue) Submit(ctx context.Context, report model.FlagReport) (*model.FlagReport, error) {
	if report.CaseID == "" {
		return nil, eris.New("triage: case id required")
	}
	if strings.TrimSpace(report.Description) == "" {
		return nil, eris.New("triage: description required")
	}
	if !report.FlagType.Valid() {
		return nil, eris.Errorf("triage: unknown flag type %q", report.FlagType)
	}

	report.ID = uuid.New().String()
	report.Status = model.FlagPending
	report.ResolutionNotes = ""
	report.ResolvedBy = ""
	report.ResolvedAt = nil
	report.CreatedAt = time.Now().UTC()

	if err := q.store.CreateFlag(ctx, report); err != nil {
		return nil, err
	}
	zap.L().Info("flag submitted",
		zap.String("flag_id", report.ID),
		zap.String("case_id", report.CaseID),
		zap.String("flag_type", string(report.FlagType)),
	)
	return &report, nil
}

// Get returns one flag report.
func (q *Queue) Get(ctx context.Context, id string) (*model.FlagReport, error) {
	flag, err := q.store.GetFlag(ctx, id)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, eris.Wrapf(qc.ErrNotFound, "flag %s", id)
	}
	return flag, nil
}

// List returns flag reports matching the filter.
func (q *Queue) List(ctx context.Context, filter store.FlagFilter) ([]model.FlagReport, error) {
	return q.store.ListFlags(ctx, filter)
}

// UpdateStatus transitions a flag. Entering resolved or rejected requires
// resolution notes and stamps resolvedBy/resolvedAt. Terminal flags are
// immutable. pending may jump straight to resolved/rejected; reviewing is
// not a mandatory stop.
func (q *Queue) UpdateStatus(ctx context.Context, id string, newStatus model.FlagStatus, resolvedBy, resolutionNotes string) (*model.FlagReport, error) {
	flag, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if flag.Status.Terminal() {
		return nil, eris.Wrapf(qc.ErrInvalidTransition, "flag %s is %s", id, flag.Status)
	}

	switch newStatus {
	case model.FlagReviewing:
		if flag.Status != model.FlagPending {
			return nil, eris.Wrapf(qc.ErrInvalidTransition, "flag %s: %s -> %s", id, flag.Status, newStatus)
		}
		flag.Status = model.FlagReviewing
	case model.FlagResolved, model.FlagRejected:
		if strings.TrimSpace(resolutionNotes) == "" {
			return nil, eris.Wrapf(qc.ErrMissingResolutionNotes, "flag %s -> %s", id, newStatus)
		}
		now := time.Now().UTC()
		flag.Status = newStatus
		flag.ResolutionNotes = resolutionNotes
		flag.ResolvedBy = resolvedBy
		flag.ResolvedAt = &now
	case model.FlagPending:
		return nil, eris.Wrapf(qc.ErrInvalidTransition, "flag %s: cannot return to pending", id)
	default:
		return nil, eris.Errorf("triage: unknown status %q", newStatus)
	}

	if err := q.store.UpdateFlag(ctx, flag); err != nil {
		return nil, err
	}
	zap.L().Info("flag updated",
		zap.String("flag_id", id),
		zap.String("status", string(flag.Status)),
	)
	return flag, nil
}
