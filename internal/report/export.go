package report

import (
	"io"
	"sort"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/settlemetrics/qc-service/internal/model"
)

// ExportConfig names the registry fields the export aggregates over.
type ExportConfig struct {
	AmountField     string `yaml:"amount_field" mapstructure:"amount_field"`
	ComponentsField string `yaml:"components_field" mapstructure:"components_field"`
	CaseNameField   string `yaml:"case_name_field" mapstructure:"case_name_field"`
}

// DefaultExportConfig matches the builtin field registry.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		AmountField:     "settlementAmount",
		ComponentsField: "settlementComponents",
		CaseNameField:   "caseName",
	}
}

// CaseRow is one canonical case in the export detail table.
type CaseRow struct {
	CaseID           string `csv:"case_id" json:"case_id"`
	CaseName         string `csv:"case_name" json:"case_name"`
	SettlementAmount string `csv:"settlement_amount" json:"settlement_amount"`
	ReviewerID       string `csv:"reviewer_id" json:"reviewer_id"`
	SupervisorID     string `csv:"supervisor_id" json:"supervisor_id"`
	Changes          int    `csv:"changes" json:"changes"`
	CompletedAt      string `csv:"completed_at" json:"completed_at"`
}

// ComponentRow aggregates one settlement component across cases.
type ComponentRow struct {
	Component string `csv:"component" json:"component"`
	Cases     int    `csv:"cases" json:"cases"`
}

// Summary holds the aggregate statistics section.
type Summary struct {
	Cases           int    `json:"cases"`
	TotalSettlement string `json:"total_settlement"`
	MeanSettlement  string `json:"mean_settlement"`
	MedianSettle    string `json:"median_settlement"`
}

// ExportDocument is the assembled multi-section settlement report.
type ExportDocument struct {
	Summary    Summary        `json:"summary"`
	Cases      []CaseRow      `json:"cases"`
	Components []ComponentRow `json:"components"`
}

// BuildExport aggregates canonical (supervisor-approved) sessions into the
// settlement report. Sessions in any other status are rejected: only
// canonical records are exportable.
func BuildExport(sessions []model.ReviewSession, cfg ExportConfig) (*ExportDocument, error) {
	printer := message.NewPrinter(language.AmericanEnglish)

	var amounts []decimal.Decimal
	total := decimal.Zero
	componentCases := make(map[string]int)
	rows := make([]CaseRow, 0, len(sessions))

	for i := range sessions {
		sess := &sessions[i]
		if sess.Status != model.StatusSupervisorApproved {
			return nil, eris.Errorf("report: case %s is %s, not canonical", sess.CaseID, sess.Status)
		}

		row := CaseRow{
			CaseID:       sess.CaseID,
			ReviewerID:   sess.ReviewerID,
			SupervisorID: sess.SupervisorID,
			Changes:      len(sess.ChangeLog),
		}
		if sess.CompletedAt != nil {
			row.CompletedAt = sess.CompletedAt.Format("2006-01-02")
		}
		if name, ok := sess.WorkingRecord[cfg.CaseNameField].(string); ok {
			row.CaseName = name
		}
		if amount, ok := parseAmount(sess.WorkingRecord[cfg.AmountField]); ok {
			amounts = append(amounts, amount)
			total = total.Add(amount)
			row.SettlementAmount = formatUSD(printer, amount)
		}
		rows = append(rows, row)

		seen := make(map[string]bool)
		for _, c := range componentList(sess.WorkingRecord[cfg.ComponentsField]) {
			key := strings.TrimSpace(c)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			componentCases[key]++
		}
	}

	summary := Summary{Cases: len(rows)}
	if len(amounts) > 0 {
		summary.TotalSettlement = formatUSD(printer, total)
		mean := total.Div(decimal.NewFromInt(int64(len(amounts))))
		summary.MeanSettlement = formatUSD(printer, mean)
		summary.MedianSettle = formatUSD(printer, median(amounts))
	}

	components := make([]ComponentRow, 0, len(componentCases))
	for name, n := range componentCases {
		components = append(components, ComponentRow{Component: name, Cases: n})
	}
	sort.Slice(components, func(i, j int) bool {
		if components[i].Cases != components[j].Cases {
			return components[i].Cases > components[j].Cases
		}
		return components[i].Component < components[j].Component
	})

	return &ExportDocument{Summary: summary, Cases: rows, Components: components}, nil
}

// WriteCSV renders the per-case detail table as CSV.
func (d *ExportDocument) WriteCSV() ([]byte, error) {
	data, err := csvutil.Marshal(d.Cases)
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal csv")
	}
	return data, nil
}

// WriteXLSX writes the three-section workbook (summary, cases, components)
// to the given path.
func (d *ExportDocument) WriteXLSX(path string) error {
	f, err := d.workbook()
	if err != nil {
		return err
	}
	return eris.Wrap(f.Save(path), "report: save xlsx")
}

// StreamXLSX writes the workbook to w.
func (d *ExportDocument) StreamXLSX(w io.Writer) error {
	f, err := d.workbook()
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func (d *ExportDocument) workbook() (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "report: add summary sheet")
	}
	addRow(summary, "Cases", printerInt(d.Summary.Cases))
	addRow(summary, "Total Settlement", d.Summary.TotalSettlement)
	addRow(summary, "Mean Settlement", d.Summary.MeanSettlement)
	addRow(summary, "Median Settlement", d.Summary.MedianSettle)

	cases, err := f.AddSheet("Cases")
	if err != nil {
		return nil, eris.Wrap(err, "report: add cases sheet")
	}
	addRow(cases, "Case ID", "Case Name", "Settlement Amount", "Reviewer", "Supervisor", "Changes", "Completed")
	for _, row := range d.Cases {
		addRow(cases, row.CaseID, row.CaseName, row.SettlementAmount,
			row.ReviewerID, row.SupervisorID, printerInt(row.Changes), row.CompletedAt)
	}

	components, err := f.AddSheet("Components")
	if err != nil {
		return nil, eris.Wrap(err, "report: add components sheet")
	}
	addRow(components, "Component", "Cases")
	for _, row := range d.Components {
		addRow(components, row.Component, printerInt(row.Cases))
	}

	return f, nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().Value = c
	}
}

func printerInt(n int) string {
	return message.NewPrinter(language.AmericanEnglish).Sprintf("%d", n)
}

func formatUSD(p *message.Printer, d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return p.Sprintf("$%.2f", f)
}

func parseAmount(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		s := strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(n), "$"), ",", "")
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func componentList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
