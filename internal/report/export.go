package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"callcenter/internal/models"

	"github.com/xuri/excelize/v2"
)

var trackerHeaders = []string{
	"Date", "Client", "No. of Dials", "No. of Contacts",
	"Gross Transfer", "Net Transfer", "File Name", "Count", "Status",
}

// WriteTrackersCSV writes tracker rows as a CSV attachment body.
func WriteTrackersCSV(w io.Writer, trackers []models.LgTracker) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trackerHeaders); err != nil {
		return err
	}
	for i := range trackers {
		if err := cw.Write(trackerRecord(&trackers[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrackersXLSX writes tracker rows as a single-sheet workbook.
func WriteTrackersXLSX(w io.Writer, trackers []models.LgTracker) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Trackers"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for col, h := range trackerHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i := range trackers {
		t := &trackers[i]
		row := i + 2
		values := []any{
			formatMDY(t.Date), clientName(t), t.NoOfDials, t.NoOfContacts,
			t.GrossTransfer, t.NetTransfer, t.FileName, t.Count, t.Status,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 20)
	_ = f.SetColWidth(sheetName, "C", "I", 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func trackerRecord(t *models.LgTracker) []string {
	return []string{
		formatMDY(t.Date),
		clientName(t),
		strconv.Itoa(t.NoOfDials),
		strconv.Itoa(t.NoOfContacts),
		strconv.Itoa(t.GrossTransfer),
		strconv.Itoa(t.NetTransfer),
		t.FileName,
		strconv.Itoa(t.Count),
		t.Status,
	}
}

func clientName(t *models.LgTracker) string {
	if t.Client != nil {
		return t.Client.Name
	}
	return ""
}

// formatMDY renders a stored date as MM/DD/YYYY.
func formatMDY(date string) string {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("01/02/2006")
}
