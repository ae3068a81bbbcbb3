// Package export renders assistance records as an XLSX workbook.
package export

import (
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/starford/assistenze/internal/models"
)

// Defaults used when no sheet or file name is configured.
const (
	DefaultSheet    = "Assistenze"
	DefaultFilename = "report-assistenze.xlsx"
	ContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// column binds a header label to the record value it shows.
type column struct {
	label string
	value func(*models.Record) any
}

var columns = []column{
	{"ID", func(r *models.Record) any { return r.ID }},
	{"Compilato da", func(r *models.Record) any { return r.CompiledBy }},
	{"Cliente", func(r *models.Record) any { return r.ClientName }},
	{"Gruppo cliente", func(r *models.Record) any { return r.ClientGroup }},
	{"Numero ordine", func(r *models.Record) any { return r.OrderNumber }},
	{"Tecnico", func(r *models.Record) any { return r.Technician }},
	{"Origine richiesta", func(r *models.Record) any { return r.RequestSource }},
	{"Richiesto da", func(r *models.Record) any { return r.RequestedFrom }},
	{"Data richiesta", func(r *models.Record) any { return r.RequestDate }},
	{"Fascia oraria", func(r *models.Record) any { return r.TimeSlot }},
	{"Ora inizio", func(r *models.Record) any { return r.StartTime }},
	{"Ora fine", func(r *models.Record) any { return r.EndTime }},
	{"Durata (min)", func(r *models.Record) any {
		if r.Duration == nil {
			return nil
		}
		return int(*r.Duration)
	}},
	{"Argomento", func(r *models.Record) any { return r.Topic }},
	{"Descrizione", func(r *models.Record) any { return r.Description }},
}

// Headers returns the column labels in sheet order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.label
	}
	return out
}

// Workbook builds a workbook holding one sheet with a header row and one row
// per record, in the given order. The caller must Close it.
func Workbook(records []models.Record, sheet string) (*excelize.File, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c.label
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("export: header: %w", err)
	}

	row := make([]any, len(columns))
	for i := range records {
		for j, c := range columns {
			row[j] = c.value(&records[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("export: cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("export: row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("export: freeze header: %w", err)
	}
	return f, nil
}

// Render writes the workbook of records to w.
func Render(records []models.Record, sheet string, w io.Writer) error {
	f, err := Workbook(records, sheet)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

// WriteFile saves the workbook of records at path.
func WriteFile(records []models.Record, sheet, path string) error {
	f, err := Workbook(records, sheet)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("export: save %s: %w", path, err)
	}
	return nil
}

// TempFile renders records into a new file in dir (the OS temp dir when
// empty) and returns it opened for reading, positioned at the start. The
// caller must close and remove it.
func TempFile(records []models.Record, sheet, dir string) (*os.File, error) {
	tmp, err := os.CreateTemp(dir, "assistenze-export-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("export: create temp: %w", err)
	}
	if err := Render(records, sheet, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("export: rewind: %w", err)
	}
	return tmp, nil
}
