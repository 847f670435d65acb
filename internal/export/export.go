package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"pinokio-tracker/internal/model"
)

// header is the column order shared by every output format.
var header = []string{
	"name", "description", "html_url", "created_at", "updated_at", "pushed_at", "open_issues",
	"upstream_name", "upstream_url", "upstream_created_at", "upstream_updated_at", "upstream_open_issues",
	"last_checked",
}

// Sort orders records by (upstream name, own name) ascending. Records
// without a resolved upstream use the empty string as their key and so
// sort first.
func Sort(records []model.RepoRecord) {
	sort.Slice(records, func(i, j int) bool {
		ui, uj := records[i].UpstreamName(), records[j].UpstreamName()
		if ui != uj {
			return ui < uj
		}
		return records[i].Name < records[j].Name
	})
}

// WriteCSV writes the records as a flat table with a header row.
func WriteCSV(path string, records []model.RepoRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(fields(rec)); err != nil {
			return fmt.Errorf("writing CSV row for %q: %w", rec.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}

// jsonRecord is the flat shape published to the static site.
type jsonRecord struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	HTMLURL            string `json:"html_url"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
	PushedAt           string `json:"pushed_at"`
	OpenIssues         int    `json:"open_issues"`
	UpstreamName       string `json:"upstream_name"`
	UpstreamURL        string `json:"upstream_url"`
	UpstreamCreatedAt  string `json:"upstream_created_at"`
	UpstreamUpdatedAt  string `json:"upstream_updated_at"`
	UpstreamOpenIssues *int   `json:"upstream_open_issues"`
	LastChecked        string `json:"last_checked"`
}

// WriteJSON writes the records as a pretty-printed JSON array, creating
// the parent directory if absent.
func WriteJSON(path string, records []model.RepoRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating JSON output directory: %w", err)
		}
	}

	out := make([]jsonRecord, 0, len(records))
	for _, rec := range records {
		j := jsonRecord{
			Name:        rec.Name,
			Description: rec.Description,
			HTMLURL:     rec.HTMLURL,
			CreatedAt:   formatTime(rec.CreatedAt),
			UpdatedAt:   formatTime(rec.UpdatedAt),
			PushedAt:    formatTime(rec.PushedAt),
			OpenIssues:  rec.OpenIssues,
			LastChecked: formatTime(rec.LastChecked),
		}
		if rec.Upstream != nil {
			j.UpstreamName = rec.Upstream.Name
			j.UpstreamURL = rec.Upstream.URL
			j.UpstreamCreatedAt = formatTime(rec.Upstream.CreatedAt)
			j.UpstreamUpdatedAt = formatTime(rec.Upstream.UpdatedAt)
			issues := rec.Upstream.OpenIssues
			j.UpstreamOpenIssues = &issues
		}
		out = append(out, j)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing JSON file: %w", err)
	}
	return nil
}

// WriteXLSX writes the records as a spreadsheet: bold header row, URL
// columns rendered as clickable hyperlinks, column widths fitted to the
// longest cell (capped at 80).
func WriteXLSX(path string, records []model.RepoRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Repos"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	link, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "1265BE", Underline: "single"}})
	if err != nil {
		return fmt.Errorf("creating hyperlink style: %w", err)
	}

	widths := make([]int, len(header))
	for col, h := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
		widths[col] = len(h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(header), 1)
	f.SetCellStyle(sheet, "A1", lastHeader, bold)

	for i, rec := range records {
		for col, val := range fields(rec) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			f.SetCellValue(sheet, cell, val)
			if strings.HasSuffix(header[col], "url") && strings.HasPrefix(val, "http") {
				f.SetCellHyperLink(sheet, cell, val, "External")
				f.SetCellStyle(sheet, cell, cell, link)
			}
			if len(val) > widths[col] {
				widths[col] = len(val)
			}
		}
	}

	for col := range header {
		name, _ := excelize.ColumnNumberToName(col + 1)
		f.SetColWidth(sheet, name, name, float64(min(widths[col]+2, 80)))
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("writing XLSX file: %w", err)
	}
	return nil
}

// fields renders one record in header order, empty strings standing in
// for absent upstream values.
func fields(rec model.RepoRecord) []string {
	upName, upURL, upCreated, upUpdated, upIssues := "", "", "", "", ""
	if rec.Upstream != nil {
		upName = rec.Upstream.Name
		upURL = rec.Upstream.URL
		upCreated = formatTime(rec.Upstream.CreatedAt)
		upUpdated = formatTime(rec.Upstream.UpdatedAt)
		upIssues = strconv.Itoa(rec.Upstream.OpenIssues)
	}
	return []string{
		rec.Name, rec.Description, rec.HTMLURL,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.PushedAt),
		strconv.Itoa(rec.OpenIssues),
		upName, upURL, upCreated, upUpdated, upIssues,
		formatTime(rec.LastChecked),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
