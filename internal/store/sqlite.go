package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/settlemetrics/qc-service/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS model_outputs (
	case_id     TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	value       TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	citation    TEXT NOT NULL DEFAULT '{}',
	produced_at DATETIME NOT NULL,
	PRIMARY KEY (case_id, field_key, model_id)
);

CREATE TABLE IF NOT EXISTS review_sessions (
	case_id           TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	reviewer_id       TEXT NOT NULL DEFAULT '',
	supervisor_id     TEXT NOT NULL DEFAULT '',
	baseline_model_id TEXT NOT NULL DEFAULT '',
	working_record    TEXT NOT NULL DEFAULT '{}',
	change_log        TEXT NOT NULL DEFAULT '[]',
	confirmations     TEXT NOT NULL DEFAULT '[]',
	review_notes      TEXT NOT NULL DEFAULT '',
	supervisor_notes  TEXT NOT NULL DEFAULT '',
	started_at        DATETIME,
	completed_at      DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transition_events (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS flag_reports (
	id               TEXT PRIMARY KEY,
	case_id          TEXT NOT NULL,
	field_context    TEXT,
	flag_type        TEXT NOT NULL,
	description      TEXT NOT NULL,
	submitted_by     TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	resolution_notes TEXT NOT NULL DEFAULT '',
	resolved_by      TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	resolved_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_model_outputs_case ON model_outputs(case_id);
CREATE INDEX IF NOT EXISTS idx_review_sessions_status ON review_sessions(status);
CREATE INDEX IF NOT EXISTS idx_transition_events_case ON transition_events(case_id);
CREATE INDEX IF NOT EXISTS idx_flag_reports_status ON flag_reports(status);
CREATE INDEX IF NOT EXISTS idx_flag_reports_case ON flag_reports(case_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordOutput upserts by (case, field, model), keeping only the output with
// the latest produced_at. The upsert guard makes concurrent ingestion of the
// same tuple last-writer-wins without interleaved partial writes.
func (s *SQLiteStore) RecordOutput(ctx context.Context, output model.ModelOutput) error {
	valueJSON, err := json.Marshal(output.Value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal output value")
	}
	citationJSON, err := json.Marshal(output.Citation)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal citation")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_outputs (case_id, field_key, model_id, value, confidence, citation, produced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (case_id, field_key, model_id) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			citation = excluded.citation,
			produced_at = excluded.produced_at
		 WHERE excluded.produced_at > model_outputs.produced_at`,
		output.CaseID, output.FieldKey, output.ModelID,
		string(valueJSON), output.Confidence, string(citationJSON), output.ProducedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record output %s/%s/%s", output.CaseID, output.FieldKey, output.ModelID)
}

func (s *SQLiteStore) GetOutput(ctx context.Context, caseID, fieldKey, modelID string) (*model.ModelOutput, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, field_key, model_id, value, confidence, citation, produced_at
		 FROM model_outputs WHERE case_id = ? AND field_key = ? AND model_id = ?`,
		caseID, fieldKey, modelID,
	)
	out, err := scanOutput(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return out, err
}

func (s *SQLiteStore) ListOutputs(ctx context.Context, caseID string) (map[string]map[string]model.ModelOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, field_key, model_id, value, confidence, citation, produced_at
		 FROM model_outputs WHERE case_id = ?`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outputs %s", caseID)
	}
	defer rows.Close()

	result := make(map[string]map[string]model.ModelOutput)
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		if result[out.FieldKey] == nil {
			result[out.FieldKey] = make(map[string]model.ModelOutput)
		}
		result[out.FieldKey][out.ModelID] = *out
	}
	return result, eris.Wrap(rows.Err(), "sqlite: list outputs")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session model.ReviewSession) error {
	cols, err := marshalSessionJSON(&session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_sessions
			(case_id, status, reviewer_id, supervisor_id, baseline_model_id,
			 working_record, change_log, confirmations, review_notes, supervisor_notes,
			 started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.CaseID, string(session.Status), session.ReviewerID, session.SupervisorID,
		session.BaselineModelID, cols.workingRecord, cols.changeLog, cols.confirmations,
		session.ReviewNotes, session.SupervisorNotes,
		session.StartedAt, session.CompletedAt, session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create session %s", session.CaseID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, caseID string) (*model.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, status, reviewer_id, supervisor_id, baseline_model_id,
			working_record, change_log, confirmations, review_notes, supervisor_notes,
			started_at, completed_at, created_at, updated_at
		 FROM review_sessions WHERE case_id = ?`,
		caseID,
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// ClaimSession is the check-PENDING-then-set-IN_REVIEW compare-and-swap: the
// WHERE clause guarantees exactly one of two concurrent claimers wins.
func (s *SQLiteStore) ClaimSession(ctx context.Context, caseID, reviewerID, baselineModelID string, workingRecord map[string]any, at time.Time) (bool, error) {
	recordJSON, err := json.Marshal(workingRecord)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal working record")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_sessions SET
			status = ?, reviewer_id = ?, baseline_model_id = ?,
			working_record = ?, started_at = ?, updated_at = ?
		 WHERE case_id = ? AND status = ?`,
		string(model.StatusInReview), reviewerID, baselineModelID,
		string(recordJSON), at.UTC(), at.UTC(),
		caseID, string(model.StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim session %s", caseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *model.ReviewSession) error {
	cols, err := marshalSessionJSON(session)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_sessions SET
			status = ?, reviewer_id = ?, supervisor_id = ?, baseline_model_id = ?,
			working_record = ?, change_log = ?, confirmations = ?,
			review_notes = ?, supervisor_notes = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		 WHERE case_id = ?`,
		string(session.Status), session.ReviewerID, session.SupervisorID, session.BaselineModelID,
		cols.workingRecord, cols.changeLog, cols.confirmations,
		session.ReviewNotes, session.SupervisorNotes,
		session.StartedAt, session.CompletedAt, session.UpdatedAt.UTC(),
		session.CaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", session.CaseID)
	}
	return checkRowsAffected(res, "session", session.CaseID)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ReviewSession, error) {
	query := `SELECT case_id, status, reviewer_id, supervisor_id, baseline_model_id,
		working_record, change_log, confirmations, review_notes, supervisor_notes,
		started_at, completed_at, created_at, updated_at
	 FROM review_sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ReviewerID != "" {
		query += ` AND reviewer_id = ?`
		args = append(args, filter.ReviewerID)
	}
	if filter.ClaimedBefore != nil {
		query += ` AND started_at IS NOT NULL AND started_at < ?`
		args = append(args, filter.ClaimedBefore.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.ReviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions")
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event model.TransitionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transition_events (id, case_id, from_status, to_status, actor_id, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.CaseID, string(event.From), string(event.To), event.ActorID, event.At.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append event %s", event.CaseID)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, caseID string) ([]model.TransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, from_status, to_status, actor_id, at
		 FROM transition_events WHERE case_id = ? ORDER BY at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", caseID)
	}
	defer rows.Close()

	var events []model.TransitionEvent
	for rows.Next() {
		var e model.TransitionEvent
		var from, to string
		if err := rows.Scan(&e.ID, &e.CaseID, &from, &to, &e.ActorID, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.From = model.SessionStatus(from)
		e.To = model.SessionStatus(to)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events")
}

func (s *SQLiteStore) CreateFlag(ctx context.Context, flag model.FlagReport) error {
	ctxJSON, err := marshalFieldContext(flag.FieldContext)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flag_reports
			(id, case_id, field_context, flag_type, description, submitted_by,
			 status, resolution_notes, resolved_by, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flag.ID, flag.CaseID, ctxJSON, string(flag.FlagType), flag.Description,
		flag.SubmittedBy, string(flag.Status), flag.ResolutionNotes, flag.ResolvedBy,
		flag.CreatedAt.UTC(), flag.ResolvedAt,
	)
	return eris.Wrapf(err, "sqlite: create flag %s", flag.ID)
}

func (s *SQLiteStore) GetFlag(ctx context.Context, id string) (*model.FlagReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, field_context, flag_type, description, submitted_by,
			status, resolution_notes, resolved_by, created_at, resolved_at
		 FROM flag_reports WHERE id = ?`,
		id,
	)
	flag, err := scanFlag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return flag, err
}

func (s *SQLiteStore) UpdateFlag(ctx context.Context, flag *model.FlagReport) error {
	ctxJSON, err := marshalFieldContext(flag.FieldContext)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flag_reports SET
			field_context = ?, flag_type = ?, description = ?, submitted_by = ?,
			status = ?, resolution_notes = ?, resolved_by = ?, resolved_at = ?
		 WHERE id = ?`,
		ctxJSON, string(flag.FlagType), flag.Description, flag.SubmittedBy,
		string(flag.Status), flag.ResolutionNotes, flag.ResolvedBy, flag.ResolvedAt,
		flag.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update flag %s", flag.ID)
	}
	return checkRowsAffected(res, "flag", flag.ID)
}

func (s *SQLiteStore) ListFlags(ctx context.Context, filter FlagFilter) ([]model.FlagReport, error) {
	query := `SELECT id, case_id, field_context, flag_type, description, submitted_by,
		status, resolution_notes, resolved_by, created_at, resolved_at
	 FROM flag_reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flags")
	}
	defer rows.Close()

	var flags []model.FlagReport
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, *flag)
	}
	return flags, eris.Wrap(rows.Err(), "sqlite: list flags")
}
