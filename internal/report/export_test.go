package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlemetrics/qc-service/internal/model"
)

func approvedSession(caseID string, amount float64, components []string) model.ReviewSession {
	completed := time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)
	return model.ReviewSession{
		CaseID:       caseID,
		Status:       model.StatusSupervisorApproved,
		ReviewerID:   "reviewer-1",
		SupervisorID: "supervisor-1",
		WorkingRecord: map[string]any{
			"caseName":             "In re " + caseID,
			"settlementAmount":     amount,
			"settlementComponents": components,
		},
		CompletedAt: &completed,
	}
}

func TestBuildExport_Summary(t *testing.T) {
	sessions := []model.ReviewSession{
		approvedSession("case-1", 1000000, []string{"cash fund"}),
		approvedSession("case-2", 3000000, []string{"cash fund", "injunctive relief"}),
	}

	doc, err := BuildExport(sessions, DefaultExportConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, doc.Summary.Cases)
	assert.Equal(t, "$4,000,000.00", doc.Summary.TotalSettlement)
	assert.Equal(t, "$2,000,000.00", doc.Summary.MeanSettlement)
	assert.Equal(t, "$2,000,000.00", doc.Summary.MedianSettle)

	require.Len(t, doc.Cases, 2)
	assert.Equal(t, "In re case-1", doc.Cases[0].CaseName)
	assert.Equal(t, "$1,000,000.00", doc.Cases[0].SettlementAmount)
	assert.Equal(t, "2026-07-14", doc.Cases[0].CompletedAt)
}

func TestBuildExport_MedianOddCount(t *testing.T) {
	sessions := []model.ReviewSession{
		approvedSession("case-1", 1000000, nil),
		approvedSession("case-2", 2500000, nil),
		approvedSession("case-3", 9000000, nil),
	}

	doc, err := BuildExport(sessions, DefaultExportConfig())
	require.NoError(t, err)
	assert.Equal(t, "$2,500,000.00", doc.Summary.MedianSettle)
}

func TestBuildExport_ComponentsCountedOncePerCase(t *testing.T) {
	sessions := []model.ReviewSession{
		// Duplicate component in one case counts once.
		approvedSession("case-1", 1000000, []string{"cash fund", "cash fund", "injunctive relief"}),
		approvedSession("case-2", 2000000, []string{"cash fund"}),
	}

	doc, err := BuildExport(sessions, DefaultExportConfig())
	require.NoError(t, err)

	require.Len(t, doc.Components, 2)
	// Sorted by case count descending.
	assert.Equal(t, ComponentRow{Component: "cash fund", Cases: 2}, doc.Components[0])
	assert.Equal(t, ComponentRow{Component: "injunctive relief", Cases: 1}, doc.Components[1])
}

func TestBuildExport_RejectsNonCanonicalSessions(t *testing.T) {
	sess := approvedSession("case-1", 1000000, nil)
	sess.Status = model.StatusReviewerApproved

	_, err := BuildExport([]model.ReviewSession{sess}, DefaultExportConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not canonical")
}

func TestBuildExport_StringAmounts(t *testing.T) {
	sess := approvedSession("case-1", 0, nil)
	sess.WorkingRecord["settlementAmount"] = "$2,500,000"

	doc, err := BuildExport([]model.ReviewSession{sess}, DefaultExportConfig())
	require.NoError(t, err)
	assert.Equal(t, "$2,500,000.00", doc.Cases[0].SettlementAmount)
}

func TestBuildExport_Empty(t *testing.T) {
	doc, err := BuildExport(nil, DefaultExportConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Summary.Cases)
	assert.Empty(t, doc.Summary.TotalSettlement)
}

func TestExportDocument_WriteCSV(t *testing.T) {
	doc, err := BuildExport([]model.ReviewSession{
		approvedSession("case-1", 1000000, nil),
	}, DefaultExportConfig())
	require.NoError(t, err)

	data, err := doc.WriteCSV()
	require.NoError(t, err)
	csv := string(data)
	assert.Contains(t, csv, "case_id,case_name,settlement_amount")
	assert.Contains(t, csv, "case-1")
	assert.Contains(t, csv, "reviewer-1")
}

func TestExportDocument_WriteXLSX(t *testing.T) {
	doc, err := BuildExport([]model.ReviewSession{
		approvedSession("case-1", 1000000, []string{"cash fund"}),
	}, DefaultExportConfig())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, doc.WriteXLSX(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
