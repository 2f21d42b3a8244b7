package qc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/store"
)

// Config holds the engine's workflow policy knobs.
type Config struct {
	// BaselineModelID seeds the reviewer's working copy at claim time. When
	// empty, or when the configured model produced nothing for the case, the
	// first model alphabetically by ID is used.
	BaselineModelID string `yaml:"baseline_model" mapstructure:"baseline_model"`
	// ModelA and ModelB are the two extraction models under comparison.
	ModelA string `yaml:"model_a" mapstructure:"model_a"`
	ModelB string `yaml:"model_b" mapstructure:"model_b"`
}

// Engine drives the review-session state machine. All mutating operations
// on one case are serialized through a per-case lock; different cases
// proceed independently. Claim additionally relies on the store's
// compare-and-swap so two processes cannot both win.
type Engine struct {
	store    store.Store
	registry *model.FieldRegistry
	detector *Detector
	cfg      Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an Engine over the given store and registry.
func NewEngine(st store.Store, reg *model.FieldRegistry, cfg Config) *Engine {
	return &Engine{
		store:    st,
		registry: reg,
		detector: NewDetector(st, reg),
		cfg:      cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Detector returns the engine's discrepancy detector.
func (e *Engine) Detector() *Detector {
	return e.detector
}

// Registry returns the engine's field registry.
func (e *Engine) Registry() *model.FieldRegistry {
	return e.registry
}

// Models returns the two model IDs under comparison.
func (e *Engine) Models() (string, string) {
	return e.cfg.ModelA, e.cfg.ModelB
}

func (e *Engine) lockCase(caseID string) func() {
	e.mu.Lock()
	l, ok := e.locks[caseID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[caseID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RecordOutput validates and persists one model's extraction of one field,
// and enqueues a PENDING review session the first time a case is seen.
// Re-recording the same (case, field, model) tuple is last-writer-wins by
// ProducedAt.
func (e *Engine) RecordOutput(ctx context.Context, output model.ModelOutput) error {
	spec := e.registry.ByKey(output.FieldKey)
	if spec == nil {
		return eris.Wrapf(ErrNotFound, "field %s", output.FieldKey)
	}
	if err := model.ValidateValue(*spec, output.Value); err != nil {
		return &TypeMismatchError{FieldKey: output.FieldKey, Reason: err.Error()}
	}
	if output.ProducedAt.IsZero() {
		output.ProducedAt = time.Now().UTC()
	}

	if err := e.store.RecordOutput(ctx, output); err != nil {
		return err
	}

	// Enter the QC queue on first sight of the case.
	sess, err := e.store.GetSession(ctx, output.CaseID)
	if err != nil {
		return err
	}
	if sess == nil {
		if _, err := e.EnqueueCase(ctx, output.CaseID); err != nil && !eris.Is(err, ErrSessionExists) {
			return err
		}
	}
	return nil
}

// EnqueueCase creates a PENDING review session for the case.
func (e *Engine) EnqueueCase(ctx context.Context, caseID string) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	existing, err := e.store.GetSession(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, eris.Wrapf(ErrSessionExists, "case %s", caseID)
	}

	now := time.Now().UTC()
	sess := model.ReviewSession{
		CaseID:        caseID,
		Status:        model.StatusPending,
		WorkingRecord: map[string]any{},
		ChangeLog:     []model.ChangeEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	zap.L().Info("case enqueued for review", zap.String("case_id", caseID))
	return &sess, nil
}

// Session returns the review session for a case.
func (e *Engine) Session(ctx context.Context, caseID string) (*model.ReviewSession, error) {
	sess, err := e.store.GetSession(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, eris.Wrapf(ErrNotFound, "session %s", caseID)
	}
	return sess, nil
}

// Events returns the transition audit trail for a case.
func (e *Engine) Events(ctx context.Context, caseID string) ([]model.TransitionEvent, error) {
	return e.store.ListEvents(ctx, caseID)
}

// Claim moves a PENDING session to IN_REVIEW for the given reviewer and
// seeds the working record from the baseline model's current outputs. The
// check-then-set is a single compare-and-swap in the store, so exactly one
// of two concurrent claimers wins; the loser gets ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, caseID, reviewerID string) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	sess, err := e.Session(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusPending {
		return nil, eris.Wrapf(ErrAlreadyClaimed, "case %s is %s", caseID, sess.Status)
	}

	outputs, err := e.store.ListOutputs(ctx, caseID)
	if err != nil {
		return nil, err
	}
	baseline := e.chooseBaseline(outputs)
	record := make(map[string]any, len(e.registry.Fields))
	for _, spec := range e.registry.Fields {
		if out, ok := outputs[spec.Key][baseline]; ok {
			record[spec.Key] = out.Value
		}
	}

	now := time.Now().UTC()
	claimed, err := e.store.ClaimSession(ctx, caseID, reviewerID, baseline, record, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, eris.Wrapf(ErrAlreadyClaimed, "case %s", caseID)
	}

	e.emit(ctx, caseID, model.StatusPending, model.StatusInReview, reviewerID)
	return e.Session(ctx, caseID)
}

// chooseBaseline returns the configured baseline model when it produced
// outputs for the case, otherwise the first producing model alphabetically.
func (e *Engine) chooseBaseline(outputs map[string]map[string]model.ModelOutput) string {
	models := make(map[string]bool)
	for _, perModel := range outputs {
		for id := range perModel {
			models[id] = true
		}
	}
	if e.cfg.BaselineModelID != "" && models[e.cfg.BaselineModelID] {
		return e.cfg.BaselineModelID
	}
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return e.cfg.BaselineModelID
	}
	return ids[0]
}

// EditField updates one working-record value and appends the matching
// change entry in a single session write; the two can never diverge. Only
// the assigned reviewer may edit, and only while the session is IN_REVIEW
// or CHANGES_REQUESTED.
func (e *Engine) EditField(ctx context.Context, caseID, fieldKey, actorID string, newValue any, annotation string, citation *model.Citation) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	sess, err := e.editableSession(ctx, caseID, actorID)
	if err != nil {
		return nil, err
	}

	spec := e.registry.ByKey(fieldKey)
	if spec == nil {
		return nil, eris.Wrapf(ErrNotFound, "field %s", fieldKey)
	}
	if err := model.ValidateValue(*spec, newValue); err != nil {
		return nil, &TypeMismatchError{FieldKey: fieldKey, Reason: err.Error()}
	}

	previous, hadPrevious := sess.WorkingRecord[fieldKey]
	differs := !hadPrevious || !model.EqualValues(*spec, previous, newValue)
	if differs && annotation == "" {
		return nil, &MissingAnnotationError{FieldKey: fieldKey}
	}

	entry := model.ChangeEntry{
		ID:            uuid.New().String(),
		FieldKey:      fieldKey,
		PreviousValue: previous,
		NewValue:      newValue,
		Annotation:    annotation,
		Citation:      citation,
		AuthorID:      actorID,
		Timestamp:     time.Now().UTC(),
	}
	sess.WorkingRecord[fieldKey] = newValue
	sess.ChangeLog = append(sess.ChangeLog, entry)
	sess.UpdatedAt = entry.Timestamp

	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	zap.L().Info("field edited",
		zap.String("case_id", caseID),
		zap.String("field_key", fieldKey),
		zap.String("reviewer_id", actorID),
	)
	return sess, nil
}

// ConfirmField records an explicit no-op acknowledgment: the reviewer saw
// the disagreement on this field and keeps the baseline value. Confirming
// twice is idempotent.
func (e *Engine) ConfirmField(ctx context.Context, caseID, fieldKey, actorID, note string) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	sess, err := e.editableSession(ctx, caseID, actorID)
	if err != nil {
		return nil, err
	}
	if e.registry.ByKey(fieldKey) == nil {
		return nil, eris.Wrapf(ErrNotFound, "field %s", fieldKey)
	}
	if sess.ConfirmedFields()[fieldKey] {
		return sess, nil
	}

	now := time.Now().UTC()
	sess.Confirmations = append(sess.Confirmations, model.FieldConfirmation{
		FieldKey:  fieldKey,
		AuthorID:  actorID,
		Note:      note,
		Timestamp: now,
	})
	sess.UpdatedAt = now

	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Submit moves an IN_REVIEW or CHANGES_REQUESTED session to
// REVIEWER_APPROVED. Every disagreeing field must carry a change entry or
// an explicit confirmation; silent disagreement never reaches a supervisor.
func (e *Engine) Submit(ctx context.Context, caseID, actorID, reviewNotes string) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	sess, err := e.editableSession(ctx, caseID, actorID)
	if err != nil {
		return nil, err
	}

	comparisons, err := e.detector.Compare(ctx, caseID, e.cfg.ModelA, e.cfg.ModelB)
	if err != nil {
		return nil, err
	}

	changed := sess.ChangedFields()
	confirmed := sess.ConfirmedFields()
	var offenders []string
	for _, fc := range comparisons {
		if fc.Agree {
			continue
		}
		if !changed[fc.FieldKey] && !confirmed[fc.FieldKey] {
			offenders = append(offenders, fc.FieldKey)
		}
	}
	if len(offenders) > 0 {
		sort.Strings(offenders)
		return nil, &UnresolvedDiscrepancyError{FieldKeys: offenders}
	}

	from := sess.Status
	sess.Status = model.StatusReviewerApproved
	if reviewNotes != "" {
		sess.ReviewNotes = reviewNotes
	}
	sess.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.emit(ctx, caseID, from, model.StatusReviewerApproved, actorID)
	return sess, nil
}

// Decide records the supervisor's verdict on a REVIEWER_APPROVED session.
// Notes are mandatory for reject and request_changes. Once a supervisor has
// decided on a case, later decisions in the same session must come from the
// same supervisor.
func (e *Engine) Decide(ctx context.Context, caseID, supervisorID string, decision model.Decision, notes string) (*model.ReviewSession, error) {
	unlock := e.lockCase(caseID)
	defer unlock()

	sess, err := e.Session(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, eris.Wrapf(ErrSessionTerminal, "case %s is %s", caseID, sess.Status)
	}
	if sess.Status != model.StatusReviewerApproved {
		return nil, eris.Wrapf(ErrInvalidTransition, "cannot decide on %s session %s", sess.Status, caseID)
	}
	if sess.SupervisorID != "" && sess.SupervisorID != supervisorID {
		return nil, eris.Wrapf(ErrNotAuthorized, "session %s is owned by supervisor %s", caseID, sess.SupervisorID)
	}

	now := time.Now().UTC()
	from := sess.Status
	var to model.SessionStatus

	switch decision {
	case model.DecisionApprove:
		to = model.StatusSupervisorApproved
		sess.CompletedAt = &now
	case model.DecisionReject:
		if notes == "" {
			return nil, eris.Wrapf(ErrMissingResolutionNotes, "reject on case %s", caseID)
		}
		to = model.StatusRejected
		sess.CompletedAt = &now
	case model.DecisionRequestChanges:
		if notes == "" {
			return nil, eris.Wrapf(ErrMissingResolutionNotes, "request_changes on case %s", caseID)
		}
		to = model.StatusChangesRequested
	default:
		return nil, eris.Wrapf(ErrInvalidTransition, "unknown decision %q", decision)
	}

	sess.Status = to
	sess.SupervisorID = supervisorID
	if notes != "" {
		sess.SupervisorNotes = notes
	}
	sess.UpdatedAt = now

	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.emit(ctx, caseID, from, to, supervisorID)
	return sess, nil
}

// editableSession loads the session and enforces the single-writer rule:
// the session must be IN_REVIEW or CHANGES_REQUESTED and the actor must be
// the assigned reviewer.
func (e *Engine) editableSession(ctx context.Context, caseID, actorID string) (*model.ReviewSession, error) {
	sess, err := e.Session(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, eris.Wrapf(ErrSessionTerminal, "case %s is %s", caseID, sess.Status)
	}
	if !sess.Status.Editable() {
		return nil, eris.Wrapf(ErrInvalidTransition, "case %s is %s", caseID, sess.Status)
	}
	if sess.ReviewerID != actorID {
		return nil, eris.Wrapf(ErrNotAuthorized, "session %s is owned by reviewer %s", caseID, sess.ReviewerID)
	}
	return sess, nil
}

// emit persists and logs one transition event. Event append failures are
// logged, not propagated: the transition itself has already committed.
func (e *Engine) emit(ctx context.Context, caseID string, from, to model.SessionStatus, actorID string) {
	event := model.TransitionEvent{
		ID:      uuid.New().String(),
		CaseID:  caseID,
		From:    from,
		To:      to,
		ActorID: actorID,
		At:      time.Now().UTC(),
	}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		zap.L().Error("append transition event", zap.String("case_id", caseID), zap.Error(err))
	}
	zap.L().Info("session transition",
		zap.String("case_id", caseID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actorID),
	)
}
