package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/qc"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
	"github.com/settlemetrics/qc-service/internal/triage"
)

func newTestServer(t *testing.T) (http.Handler, *qc.Engine) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg := model.NewFieldRegistry([]model.FieldSpec{
		{Key: "caseName", Label: "Case Name", ValueType: model.TypeText},
		{Key: "settlementAmount", Label: "Settlement Amount", ValueType: model.TypeCurrency},
		{Key: "settlementComponents", Label: "Settlement Components", ValueType: model.TypeArray},
	})
	engine := qc.NewEngine(st, reg, qc.Config{
		BaselineModelID: "model-a",
		ModelA:          "model-a",
		ModelB:          "model-b",
	})

	srv := NewServer(engine, triage.NewQueue(st), report.NewAssembler(engine), st,
		report.DefaultExportConfig(), 60, 2)
	return srv.Router(), engine
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func seedCaseHTTP(t *testing.T, h http.Handler) {
	t.Helper()
	outputs := []map[string]any{
		{"case_id": "case-1", "field_key": "caseName", "model_id": "model-a", "value": "Smith v. Acme"},
		{"case_id": "case-1", "field_key": "caseName", "model_id": "model-b", "value": "smith v. acme"},
		{"case_id": "case-1", "field_key": "settlementAmount", "model_id": "model-a", "value": 2500000.0},
		{"case_id": "case-1", "field_key": "settlementAmount", "model_id": "model-b", "value": 2750000.0},
		{"case_id": "case-1", "field_key": "settlementComponents", "model_id": "model-a", "value": []string{"cash fund"}},
		{"case_id": "case-1", "field_key": "settlementComponents", "model_id": "model-b", "value": []string{"cash fund"}},
	}
	for _, out := range outputs {
		rec := doJSON(t, h, http.MethodPost, "/outputs", out)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}
}

func TestServer_Health(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecordOutput_Validation(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/outputs", map[string]any{"case_id": "case-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/outputs", map[string]any{
		"case_id": "case-1", "field_key": "nonexistentField", "model_id": "model-a", "value": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/outputs", map[string]any{
		"case_id": "case-1", "field_key": "settlementAmount", "model_id": "model-a", "value": "not a number",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FullReviewWorkflow(t *testing.T) {
	h, _ := newTestServer(t)
	seedCaseHTTP(t, h)

	// Comparison is available as soon as outputs exist.
	rec := doJSON(t, h, http.MethodGet, "/cases/case-1/comparison", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view report.ComparisonView
	decodeBody(t, rec, &view)
	assert.Len(t, view.Rows, 3)

	// Claim.
	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/claim", map[string]any{"reviewer_id": "reviewer-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess model.ReviewSession
	decodeBody(t, rec, &sess)
	assert.Equal(t, model.StatusInReview, sess.Status)

	// Second claim conflicts.
	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/claim", map[string]any{"reviewer_id": "reviewer-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Submitting with the amount unresolved returns the offending fields.
	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/submit", map[string]any{"actor_id": "reviewer-1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		FieldKeys []string `json:"field_keys"`
	}
	decodeBody(t, rec, &conflict)
	assert.Equal(t, []string{"settlementAmount"}, conflict.FieldKeys)

	// Edit without an annotation is rejected.
	rec = doJSON(t, h, http.MethodPatch, "/cases/case-1/review/fields/settlementAmount", map[string]any{
		"actor_id": "reviewer-1", "new_value": 2600000.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Edit with annotation and citation.
	rec = doJSON(t, h, http.MethodPatch, "/cases/case-1/review/fields/settlementAmount", map[string]any{
		"actor_id":   "reviewer-1",
		"new_value":  2600000.0,
		"annotation": "split the difference per amended filing",
		"citation":   map[string]any{"document_name": "amended_settlement.pdf", "page_number": 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &sess)
	require.Len(t, sess.ChangeLog, 1)

	// Submit now succeeds.
	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/submit", map[string]any{
		"actor_id": "reviewer-1", "review_notes": "amounts reconciled",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &sess)
	assert.Equal(t, model.StatusReviewerApproved, sess.Status)

	// Reject without notes fails; approve succeeds.
	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/decide", map[string]any{
		"supervisor_id": "supervisor-1", "decision": "reject",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/decide", map[string]any{
		"supervisor_id": "supervisor-1", "decision": "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &sess)
	assert.Equal(t, model.StatusSupervisorApproved, sess.Status)

	// The audit trail covers the whole lifecycle.
	rec = doJSON(t, h, http.MethodGet, "/cases/case-1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.TransitionEvent
	decodeBody(t, rec, &events)
	assert.Len(t, events, 3)

	// And the case is now exportable.
	rec = doJSON(t, h, http.MethodGet, "/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc report.ExportDocument
	decodeBody(t, rec, &doc)
	assert.Equal(t, 1, doc.Summary.Cases)
	assert.Equal(t, "$2,600,000.00", doc.Summary.TotalSettlement)
}

func TestServer_ConfirmField(t *testing.T) {
	h, _ := newTestServer(t)
	seedCaseHTTP(t, h)

	rec := doJSON(t, h, http.MethodPost, "/cases/case-1/review/claim", map[string]any{"reviewer_id": "reviewer-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/confirm", map[string]any{
		"actor_id": "reviewer-1", "field_key": "settlementAmount", "note": "model-a verified against PACER",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/cases/case-1/review/submit", map[string]any{"actor_id": "reviewer-1"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_EditField_NotAuthorized(t *testing.T) {
	h, _ := newTestServer(t)
	seedCaseHTTP(t, h)

	rec := doJSON(t, h, http.MethodPost, "/cases/case-1/review/claim", map[string]any{"reviewer_id": "reviewer-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/cases/case-1/review/fields/settlementAmount", map[string]any{
		"actor_id": "intruder", "new_value": 1.0, "annotation": "hah",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_Comparison_UnknownCase(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/cases/nope/comparison", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListSessions(t *testing.T) {
	h, _ := newTestServer(t)
	seedCaseHTTP(t, h)

	rec := doJSON(t, h, http.MethodGet, "/sessions?status=PENDING", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []model.ReviewSession
	decodeBody(t, rec, &sessions)
	assert.Len(t, sessions, 1)

	rec = doJSON(t, h, http.MethodGet, "/sessions?claimed_before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Flags(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/flags/", map[string]any{
		"case_id":      "case-1",
		"flag_type":    "incorrect-data",
		"description":  "the settlement amount is wrong",
		"submitted_by": "user-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var flag model.FlagReport
	decodeBody(t, rec, &flag)
	assert.Equal(t, model.FlagPending, flag.Status)

	// Resolve without notes fails.
	rec = doJSON(t, h, http.MethodPatch, "/flags/"+flag.ID, map[string]any{
		"status": "resolved", "resolved_by": "triager-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/flags/"+flag.ID, map[string]any{
		"status": "resolved", "resolved_by": "triager-1", "resolution_notes": "amount corrected",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &flag)
	assert.Equal(t, model.FlagResolved, flag.Status)

	rec = doJSON(t, h, http.MethodGet, "/flags/?status=resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flags []model.FlagReport
	decodeBody(t, rec, &flags)
	assert.Len(t, flags, 1)
}

func TestServer_AnonymousFlagRateLimit(t *testing.T) {
	h, _ := newTestServer(t) // burst of 2 for anonymous submissions

	body := map[string]any{
		"case_id":     "case-1",
		"flag_type":   "other",
		"description": "something looks off",
	}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/flags/", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, h, http.MethodPost, "/flags/", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Identified submissions are not throttled.
	body["submitted_by"] = "user-1"
	rec = doJSON(t, h, http.MethodPost, "/flags/", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_Export_CSV(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/export?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestServer_Export_XLSX(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
