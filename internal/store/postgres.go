package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/settlemetrics/qc-service/internal/db"
	"github.com/settlemetrics/qc-service/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"record_output": `INSERT INTO model_outputs (case_id, field_key, model_id, value, confidence, citation, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (case_id, field_key, model_id) DO UPDATE SET
			value = excluded.value, confidence = excluded.confidence,
			citation = excluded.citation, produced_at = excluded.produced_at
		WHERE excluded.produced_at > model_outputs.produced_at`,
	"get_output": `SELECT case_id, field_key, model_id, value, confidence, citation, produced_at
		FROM model_outputs WHERE case_id = $1 AND field_key = $2 AND model_id = $3`,
	"get_session": `SELECT case_id, status, reviewer_id, supervisor_id, baseline_model_id,
		working_record, change_log, confirmations, review_notes, supervisor_notes,
		started_at, completed_at, created_at, updated_at
		FROM review_sessions WHERE case_id = $1`,
	"claim_session": `UPDATE review_sessions SET
		status = $1, reviewer_id = $2, baseline_model_id = $3,
		working_record = $4, started_at = $5, updated_at = $6
		WHERE case_id = $7 AND status = $8`,
	"append_event": `INSERT INTO transition_events (id, case_id, from_status, to_status, actor_id, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS model_outputs (
	case_id     TEXT NOT NULL,
	field_key   TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	value       JSONB NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	citation    JSONB NOT NULL DEFAULT '{}',
	produced_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (case_id, field_key, model_id)
);

CREATE TABLE IF NOT EXISTS review_sessions (
	case_id           TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	reviewer_id       TEXT NOT NULL DEFAULT '',
	supervisor_id     TEXT NOT NULL DEFAULT '',
	baseline_model_id TEXT NOT NULL DEFAULT '',
	working_record    JSONB NOT NULL DEFAULT '{}',
	change_log        JSONB NOT NULL DEFAULT '[]',
	confirmations     JSONB NOT NULL DEFAULT '[]',
	review_notes      TEXT NOT NULL DEFAULT '',
	supervisor_notes  TEXT NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transition_events (
	id          TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS flag_reports (
	id               TEXT PRIMARY KEY,
	case_id          TEXT NOT NULL,
	field_context    JSONB,
	flag_type        TEXT NOT NULL,
	description      TEXT NOT NULL,
	submitted_by     TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	resolution_notes TEXT NOT NULL DEFAULT '',
	resolved_by      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_model_outputs_case ON model_outputs(case_id);
CREATE INDEX IF NOT EXISTS idx_review_sessions_status ON review_sessions(status);
CREATE INDEX IF NOT EXISTS idx_transition_events_case ON transition_events(case_id);
CREATE INDEX IF NOT EXISTS idx_flag_reports_status ON flag_reports(status);
CREATE INDEX IF NOT EXISTS idx_flag_reports_case ON flag_reports(case_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordOutput(ctx context.Context, output model.ModelOutput) error {
	valueJSON, err := json.Marshal(output.Value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal output value")
	}
	citationJSON, err := json.Marshal(output.Citation)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal citation")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO model_outputs (case_id, field_key, model_id, value, confidence, citation, produced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (case_id, field_key, model_id) DO UPDATE SET
			value = excluded.value, confidence = excluded.confidence,
			citation = excluded.citation, produced_at = excluded.produced_at
		 WHERE excluded.produced_at > model_outputs.produced_at`,
		output.CaseID, output.FieldKey, output.ModelID,
		valueJSON, output.Confidence, citationJSON, output.ProducedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record output %s/%s/%s", output.CaseID, output.FieldKey, output.ModelID)
}

func (s *PostgresStore) GetOutput(ctx context.Context, caseID, fieldKey, modelID string) (*model.ModelOutput, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT case_id, field_key, model_id, value, confidence, citation, produced_at
		 FROM model_outputs WHERE case_id = $1 AND field_key = $2 AND model_id = $3`,
		caseID, fieldKey, modelID,
	)
	out, err := scanOutput(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get output %s/%s/%s", caseID, fieldKey, modelID)
	}
	return out, nil
}

func (s *PostgresStore) ListOutputs(ctx context.Context, caseID string) (map[string]map[string]model.ModelOutput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT case_id, field_key, model_id, value, confidence, citation, produced_at
		 FROM model_outputs WHERE case_id = $1`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outputs %s", caseID)
	}
	defer rows.Close()

	result := make(map[string]map[string]model.ModelOutput)
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan output")
		}
		if result[out.FieldKey] == nil {
			result[out.FieldKey] = make(map[string]model.ModelOutput)
		}
		result[out.FieldKey][out.ModelID] = *out
	}
	return result, eris.Wrap(rows.Err(), "postgres: list outputs")
}

func (s *PostgresStore) CreateSession(ctx context.Context, session model.ReviewSession) error {
	cols, err := marshalSessionJSON(&session)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_sessions
			(case_id, status, reviewer_id, supervisor_id, baseline_model_id,
			 working_record, change_log, confirmations, review_notes, supervisor_notes,
			 started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		session.CaseID, string(session.Status), session.ReviewerID, session.SupervisorID,
		session.BaselineModelID, cols.workingRecord, cols.changeLog, cols.confirmations,
		session.ReviewNotes, session.SupervisorNotes,
		session.StartedAt, session.CompletedAt, session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: create session %s", session.CaseID)
}

func (s *PostgresStore) GetSession(ctx context.Context, caseID string) (*model.ReviewSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT case_id, status, reviewer_id, supervisor_id, baseline_model_id,
			working_record, change_log, confirmations, review_notes, supervisor_notes,
			started_at, completed_at, created_at, updated_at
		 FROM review_sessions WHERE case_id = $1`,
		caseID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", caseID)
	}
	return sess, nil
}

func (s *PostgresStore) ClaimSession(ctx context.Context, caseID, reviewerID, baselineModelID string, workingRecord map[string]any, at time.Time) (bool, error) {
	recordJSON, err := json.Marshal(workingRecord)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal working record")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_sessions SET
			status = $1, reviewer_id = $2, baseline_model_id = $3,
			working_record = $4, started_at = $5, updated_at = $6
		 WHERE case_id = $7 AND status = $8`,
		string(model.StatusInReview), reviewerID, baselineModelID,
		recordJSON, at.UTC(), at.UTC(),
		caseID, string(model.StatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim session %s", caseID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *model.ReviewSession) error {
	cols, err := marshalSessionJSON(session)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_sessions SET
			status = $1, reviewer_id = $2, supervisor_id = $3, baseline_model_id = $4,
			working_record = $5, change_log = $6, confirmations = $7,
			review_notes = $8, supervisor_notes = $9,
			started_at = $10, completed_at = $11, updated_at = $12
		 WHERE case_id = $13`,
		string(session.Status), session.ReviewerID, session.SupervisorID, session.BaselineModelID,
		cols.workingRecord, cols.changeLog, cols.confirmations,
		session.ReviewNotes, session.SupervisorNotes,
		session.StartedAt, session.CompletedAt, session.UpdatedAt.UTC(),
		session.CaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", session.CaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("session not found: %s", session.CaseID)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ReviewSession, error) {
	query := `SELECT case_id, status, reviewer_id, supervisor_id, baseline_model_id,
		working_record, change_log, confirmations, review_notes, supervisor_notes,
		started_at, completed_at, created_at, updated_at
	 FROM review_sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ReviewerID != "" {
		query += fmt.Sprintf(` AND reviewer_id = $%d`, argIdx)
		args = append(args, filter.ReviewerID)
		argIdx++
	}
	if filter.ClaimedBefore != nil {
		query += fmt.Sprintf(` AND started_at IS NOT NULL AND started_at < $%d`, argIdx)
		args = append(args, filter.ClaimedBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.ReviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions")
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event model.TransitionEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transition_events (id, case_id, from_status, to_status, actor_id, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.CaseID, string(event.From), string(event.To), event.ActorID, event.At.UTC(),
	)
	return eris.Wrapf(err, "postgres: append event %s", event.CaseID)
}

func (s *PostgresStore) ListEvents(ctx context.Context, caseID string) ([]model.TransitionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, from_status, to_status, actor_id, at
		 FROM transition_events WHERE case_id = $1 ORDER BY at ASC`,
		caseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", caseID)
	}
	defer rows.Close()

	var events []model.TransitionEvent
	for rows.Next() {
		var e model.TransitionEvent
		var from, to string
		if err := rows.Scan(&e.ID, &e.CaseID, &from, &to, &e.ActorID, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.From = model.SessionStatus(from)
		e.To = model.SessionStatus(to)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events")
}

func (s *PostgresStore) CreateFlag(ctx context.Context, flag model.FlagReport) error {
	ctxJSON, err := marshalFieldContext(flag.FieldContext)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO flag_reports
			(id, case_id, field_context, flag_type, description, submitted_by,
			 status, resolution_notes, resolved_by, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		flag.ID, flag.CaseID, ctxJSON, string(flag.FlagType), flag.Description,
		flag.SubmittedBy, string(flag.Status), flag.ResolutionNotes, flag.ResolvedBy,
		flag.CreatedAt.UTC(), flag.ResolvedAt,
	)
	return eris.Wrapf(err, "postgres: create flag %s", flag.ID)
}

func (s *PostgresStore) GetFlag(ctx context.Context, id string) (*model.FlagReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, case_id, field_context, flag_type, description, submitted_by,
			status, resolution_notes, resolved_by, created_at, resolved_at
		 FROM flag_reports WHERE id = $1`,
		id,
	)
	flag, err := scanFlag(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get flag %s", id)
	}
	return flag, nil
}

func (s *PostgresStore) UpdateFlag(ctx context.Context, flag *model.FlagReport) error {
	ctxJSON, err := marshalFieldContext(flag.FieldContext)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE flag_reports SET
			field_context = $1, flag_type = $2, description = $3, submitted_by = $4,
			status = $5, resolution_notes = $6, resolved_by = $7, resolved_at = $8
		 WHERE id = $9`,
		ctxJSON, string(flag.FlagType), flag.Description, flag.SubmittedBy,
		string(flag.Status), flag.ResolutionNotes, flag.ResolvedBy, flag.ResolvedAt,
		flag.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update flag %s", flag.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("flag not found: %s", flag.ID)
	}
	return nil
}

func (s *PostgresStore) ListFlags(ctx context.Context, filter FlagFilter) ([]model.FlagReport, error) {
	query := `SELECT id, case_id, field_context, flag_type, description, submitted_by,
		status, resolution_notes, resolved_by, created_at, resolved_at
	 FROM flag_reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CaseID != "" {
		query += fmt.Sprintf(` AND case_id = $%d`, argIdx)
		args = append(args, filter.CaseID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flags")
	}
	defer rows.Close()

	var flags []model.FlagReport
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan flag")
		}
		flags = append(flags, *flag)
	}
	return flags, eris.Wrap(rows.Err(), "postgres: list flags")
}
