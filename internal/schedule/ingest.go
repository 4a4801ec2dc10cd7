package schedule

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	appLog "cohortcal/internal/log"
	"cohortcal/internal/model"
)

// ErrSchema marks a table that lacks the columns required to ingest it.
var ErrSchema = errors.New("schedule: schema violation")

// DateColumn is the required first header of a wide schedule table.
const DateColumn = "Date"

// WideResult is the long-form view of a wide (date x cohort) schedule table.
type WideResult struct {
	// Cohorts are the cohort column headers in table order.
	Cohorts []string
	Entries []model.ScheduleEntry
	// SkippedRows counts rows whose date failed to parse.
	SkippedRows int
}

// ReadWide dispatches on the file name extension: ".xlsx" is read with
// excelize, anything else as CSV.
func ReadWide(name string, r io.Reader) (WideResult, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ReadWideXLSX(r)
	}
	return ReadWideCSV(r)
}

// ReadWideCSV reads a wide schedule CSV whose first column is Date and whose
// remaining columns are cohorts.
func ReadWideCSV(r io.Reader) (WideResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return WideResult{}, fmt.Errorf("read schedule csv: %w", err)
	}
	return FromRows(rows)
}

// ReadWideXLSX reads the first sheet of a workbook as a wide schedule table.
func ReadWideXLSX(r io.Reader) (WideResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return WideResult{}, fmt.Errorf("open schedule workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return WideResult{}, fmt.Errorf("%w: workbook has no sheets", ErrSchema)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return WideResult{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return FromRows(rows)
}

// FromRows converts raw table rows (header first) into schedule entries.
// Blank and "nan" cells produce no entry; rows with an unparseable date are
// dropped and counted.
func FromRows(rows [][]string) (WideResult, error) {
	var res WideResult
	if len(rows) == 0 {
		return res, fmt.Errorf("%w: table is empty", ErrSchema)
	}

	header := rows[0]
	if len(header) == 0 || cleanHeader(header[0]) != DateColumn {
		return res, fmt.Errorf("%w: first column must be %q", ErrSchema, DateColumn)
	}

	// col index -> cohort name
	cols := make(map[int]string)
	for i := 1; i < len(header); i++ {
		name := cleanHeader(header[i])
		if name == "" {
			continue
		}
		cols[i] = name
		res.Cohorts = append(res.Cohorts, name)
	}
	if len(res.Cohorts) == 0 {
		return res, fmt.Errorf("%w: no cohort columns after %q", ErrSchema, DateColumn)
	}

	for _, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			if rowHasCells(row) {
				res.SkippedRows++
			}
			continue
		}
		raw := strings.TrimSpace(row[0])
		date, ok := ParseDate(raw)
		if !ok {
			res.SkippedRows++
			continue
		}
		for i := 1; i < len(row); i++ {
			cohort, ok := cols[i]
			if !ok || IsBlankCell(row[i]) {
				continue
			}
			res.Entries = append(res.Entries, model.ScheduleEntry{
				RawDate: raw,
				Date:    date,
				Cohort:  cohort,
				UnitRaw: strings.TrimSpace(row[i]),
			})
		}
	}

	if res.SkippedRows > 0 {
		appLog.Warn("schedule rows skipped", "reason", "unparseable date", "count", res.SkippedRows)
	}
	return res, nil
}

func rowHasCells(row []string) bool {
	for _, c := range row {
		if !IsBlankCell(c) {
			return true
		}
	}
	return false
}

func cleanHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}
