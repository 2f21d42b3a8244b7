package store

import (
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/settlemetrics/qc-service/internal/model"
)

// helpers shared by the SQLite and Postgres stores

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOutput(row scannable) (*model.ModelOutput, error) {
	var out model.ModelOutput
	var valueJSON, citationJSON string

	err := row.Scan(&out.CaseID, &out.FieldKey, &out.ModelID,
		&valueJSON, &out.Confidence, &citationJSON, &out.ProducedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &out.Value); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal output value")
	}
	if err := json.Unmarshal([]byte(citationJSON), &out.Citation); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal citation")
	}
	return &out, nil
}

type sessionJSON struct {
	workingRecord string
	changeLog     string
	confirmations string
}

func marshalSessionJSON(s *model.ReviewSession) (sessionJSON, error) {
	record := s.WorkingRecord
	if record == nil {
		record = map[string]any{}
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return sessionJSON{}, eris.Wrap(err, "store: marshal working record")
	}

	log := s.ChangeLog
	if log == nil {
		log = []model.ChangeEntry{}
	}
	logJSON, err := json.Marshal(log)
	if err != nil {
		return sessionJSON{}, eris.Wrap(err, "store: marshal change log")
	}

	confirms := s.Confirmations
	if confirms == nil {
		confirms = []model.FieldConfirmation{}
	}
	confirmsJSON, err := json.Marshal(confirms)
	if err != nil {
		return sessionJSON{}, eris.Wrap(err, "store: marshal confirmations")
	}

	return sessionJSON{
		workingRecord: string(recordJSON),
		changeLog:     string(logJSON),
		confirmations: string(confirmsJSON),
	}, nil
}

func scanSession(row scannable) (*model.ReviewSession, error) {
	var s model.ReviewSession
	var status, recordJSON, logJSON, confirmsJSON string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&s.CaseID, &status, &s.ReviewerID, &s.SupervisorID, &s.BaselineModelID,
		&recordJSON, &logJSON, &confirmsJSON, &s.ReviewNotes, &s.SupervisorNotes,
		&startedAt, &completedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s.Status = model.SessionStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		s.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(recordJSON), &s.WorkingRecord); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal working record")
	}
	if err := json.Unmarshal([]byte(logJSON), &s.ChangeLog); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal change log")
	}
	if err := json.Unmarshal([]byte(confirmsJSON), &s.Confirmations); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal confirmations")
	}
	return &s, nil
}

func marshalFieldContext(fc *model.FieldContext) (sql.NullString, error) {
	if fc == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal field context")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanFlag(row scannable) (*model.FlagReport, error) {
	var f model.FlagReport
	var flagType, status string
	var fieldContext sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&f.ID, &f.CaseID, &fieldContext, &flagType, &f.Description,
		&f.SubmittedBy, &status, &f.ResolutionNotes, &f.ResolvedBy,
		&f.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	f.FlagType = model.FlagType(flagType)
	f.Status = model.FlagStatus(status)
	if fieldContext.Valid {
		f.FieldContext = &model.FieldContext{}
		if err := json.Unmarshal([]byte(fieldContext.String), f.FieldContext); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal field context")
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		f.ResolvedAt = &t
	}
	return &f, nil
}
