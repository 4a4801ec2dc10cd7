package export

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"cohortcal/internal/model"
)

const sheetName = "schedule"

// TableXLSX renders the pivot table as a single-sheet workbook: a "Date"
// column followed by one column per cohort.
func TableXLSX(tbl model.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	header := append([]any{"Date"}, toAny(tbl.Cohorts)...)
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, err
	}
	for i, row := range tbl.Rows {
		values := []any{row.Date}
		for _, c := range tbl.Cohorts {
			values = append(values, row.Cells[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TablePDF renders the pivot table on landscape A4 pages.
func TablePDF(tbl model.Table, title string) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	// Core fonts are cp1252; UTF-8 input has to be translated first.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 12)
	pdf.AddPage()

	if title != "" {
		pdf.Cell(0, 8, tr(title))
		pdf.Ln(10)
	}

	const dateWidth = 28.0
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	cohortWidth := 40.0
	if n := len(tbl.Cohorts); n > 0 {
		cohortWidth = (pageW - left - right - dateWidth) / float64(n)
	}

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(dateWidth, 6, "Date", "1", 0, "C", false, 0, "")
		for _, c := range tbl.Cohorts {
			pdf.CellFormat(cohortWidth, 6, cellText(pdf, tr, c, cohortWidth), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	header()

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range tbl.Rows {
		if pdf.GetY()+6 > pageH-bottom {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(dateWidth, 6, row.Date, "1", 0, "C", false, 0, "")
		for _, c := range tbl.Cohorts {
			pdf.CellFormat(cohortWidth, 6, cellText(pdf, tr, row.Cells[c], cohortWidth), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TableText renders the pivot table as aligned plain text.
func TableText(tbl model.Table) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Date\t%s\n", strings.Join(tbl.Cohorts, "\t"))
	for _, row := range tbl.Rows {
		cells := make([]string, len(tbl.Cohorts))
		for i, c := range tbl.Cohorts {
			cells[i] = row.Cells[c]
		}
		fmt.Fprintf(w, "%s\t%s\n", row.Date, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	return b.String()
}

// cellText encodes s for the core fonts and truncates it with an ellipsis
// so it fits width at the current font.
func cellText(pdf *gofpdf.Fpdf, tr func(string) string, s string, width float64) string {
	const pad = 2.0
	s = tr(s)
	if pdf.GetStringWidth(s)+pad <= width {
		return s
	}
	// Translated text is single-byte, so byte slicing is safe.
	b := s
	for len(b) > 0 && pdf.GetStringWidth(b+"...")+pad > width {
		b = b[:len(b)-1]
	}
	return b + "..."
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
