package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecordOutput(w http.ResponseWriter, r *http.Request) {
	var output model.ModelOutput
	if err := json.NewDecoder(r.Body).Decode(&output); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if output.CaseID == "" || output.FieldKey == "" || output.ModelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "case_id, field_key and model_id are required"})
		return
	}
	if err := s.engine.RecordOutput(r.Context(), output); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "recorded",
		"case_id": output.CaseID,
	})
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	view, err := s.assembler.RenderComparison(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.Events(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID string `json:"reviewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reviewer_id is required"})
		return
	}
	sess, err := s.engine.Claim(r.Context(), chi.URLParam(r, "caseID"), req.ReviewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEditField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID    string          `json:"actor_id"`
		NewValue   any             `json:"new_value"`
		Annotation string          `json:"annotation"`
		Citation   *model.Citation `json:"citation,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor_id is required"})
		return
	}
	sess, err := s.engine.EditField(r.Context(),
		chi.URLParam(r, "caseID"), chi.URLParam(r, "fieldKey"),
		req.ActorID, req.NewValue, req.Annotation, req.Citation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleConfirmField(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID  string `json:"actor_id"`
		FieldKey string `json:"field_key"`
		Note     string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" || req.FieldKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor_id and field_key are required"})
		return
	}
	sess, err := s.engine.ConfirmField(r.Context(),
		chi.URLParam(r, "caseID"), req.FieldKey, req.ActorID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID     string `json:"actor_id"`
		ReviewNotes string `json:"review_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor_id is required"})
		return
	}
	sess, err := s.engine.Submit(r.Context(), chi.URLParam(r, "caseID"), req.ActorID, req.ReviewNotes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupervisorID string `json:"supervisor_id"`
		Decision     string `json:"decision"`
		Notes        string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SupervisorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "supervisor_id is required"})
		return
	}
	sess, err := s.engine.Decide(r.Context(), chi.URLParam(r, "caseID"),
		req.SupervisorID, model.Decision(req.Decision), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Status:     model.SessionStatus(r.URL.Query().Get("status")),
		ReviewerID: r.URL.Query().Get("reviewer_id"),
	}
	if before := r.URL.Query().Get("claimed_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "claimed_before must be RFC3339"})
			return
		}
		filter.ClaimedBefore = &t
	}
	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.queue.List(r.Context(), store.FlagFilter{
		Status: model.FlagStatus(r.URL.Query().Get("status")),
		CaseID: r.URL.Query().Get("case_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleSubmitFlag(w http.ResponseWriter, r *http.Request) {
	var flag model.FlagReport
	if err := json.NewDecoder(r.Body).Decode(&flag); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if flag.SubmittedBy == "" && !s.allowAnonymous(r.RemoteAddr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}
	created, err := s.queue.Submit(r.Context(), flag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status          string `json:"status"`
		ResolvedBy      string `json:"resolved_by"`
		ResolutionNotes string `json:"resolution_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	flag, err := s.queue.UpdateStatus(r.Context(), chi.URLParam(r, "flagID"),
		model.FlagStatus(req.Status), req.ResolvedBy, req.ResolutionNotes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

// handleExport aggregates all canonical sessions into the settlement
// report. format=csv streams the detail table, format=xlsx streams the
// full workbook; the default is the full document as JSON.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), store.SessionFilter{
		Status: model.StatusSupervisorApproved,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := report.BuildExport(sessions, s.exportCfg)
	if err != nil {
		writeError(w, eris.Wrap(err, "build export"))
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		data, err := doc.WriteCSV()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="settlements.csv"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data) //nolint:errcheck
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="settlements.xlsx"`)
		if err := doc.StreamXLSX(w); err != nil {
			zap.L().Error("stream xlsx", zap.Error(err))
		}
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}
