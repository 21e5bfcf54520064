package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"callcenter/internal/models"
)

// Required column headers of a lead CSV.
const (
	ColumnCustomerName = "Customer Name"
	ColumnPhoneNumber  = "Phone number"
	ColumnStatus       = "Status"
)

// SampleCSV is served by the sample download endpoint.
const SampleCSV = "Customer Name,Phone number,Status\nJohn Doe,9999999999,Active\nJane Doe,8888888888,Inactive"

// Result is the outcome of parsing one file.
type Result struct {
	Rows    []models.LeadRow
	Skipped int
	// MissingColumns lists required headers absent from the file.
	MissingColumns []string
}

// Accepted is the number of rows kept.
func (r *Result) Accepted() int { return len(r.Rows) }

// ParseLeads reads a lead CSV. Rows are kept only when all three required
// columns are non-empty; everything else is counted as skipped. A file
// without the required headers yields no rows rather than an error.
func ParseLeads(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Result{MissingColumns: []string{ColumnCustomerName, ColumnPhoneNumber, ColumnStatus}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	res := &Result{}
	for _, col := range []string{ColumnCustomerName, ColumnPhoneNumber, ColumnStatus} {
		if _, ok := index[col]; !ok {
			res.MissingColumns = append(res.MissingColumns, col)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(res.MissingColumns) > 0 {
			res.Skipped++
			continue
		}

		row := models.LeadRow{
			CustomerName: field(record, index[ColumnCustomerName]),
			PhoneNumber:  field(record, index[ColumnPhoneNumber]),
			Status:       field(record, index[ColumnStatus]),
		}
		if row.CustomerName == "" || row.PhoneNumber == "" || row.Status == "" {
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
