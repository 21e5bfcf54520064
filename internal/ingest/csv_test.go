package ingest

import (
	"strings"
	"testing"

	"callcenter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeadsSample(t *testing.T) {
	res, err := ParseLeads(strings.NewReader(SampleCSV))
	require.NoError(t, err)
	assert.Empty(t, res.MissingColumns)
	assert.Equal(t, 2, res.Accepted())
	assert.Equal(t, models.LeadRow{CustomerName: "John Doe", PhoneNumber: "9999999999", Status: "Active"}, res.Rows[0])
}

func TestParseLeadsSkipsIncompleteRows(t *testing.T) {
	input := "\ufeffStatus,Customer Name,Phone number,Notes\n" +
		"Active,Ann,111,hi\n" +
		"Active,,222,\n" +
		" ,Bob,333\n" +
		"Lost,Cy,444\n" +
		"Lost\n"

	res, err := ParseLeads(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted())
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, "Ann", res.Rows[0].CustomerName)
	assert.Equal(t, "Cy", res.Rows[1].CustomerName)
	assert.Equal(t, "444", res.Rows[1].PhoneNumber)
}

func TestParseLeadsMissingHeaders(t *testing.T) {
	res, err := ParseLeads(strings.NewReader("Name,Phone\nAnn,111\n"))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{ColumnCustomerName, ColumnPhoneNumber, ColumnStatus}, res.MissingColumns)
}

func TestParseLeadsEmpty(t *testing.T) {
	res, err := ParseLeads(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted())
	assert.Len(t, res.MissingColumns, 3)
}

func TestParseLeadsQuoted(t *testing.T) {
	input := "Customer Name,Phone number,Status\n\"Doe, Jane\",\"+1 555\",\"Call back\"\n"
	res, err := ParseLeads(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted())
	assert.Equal(t, "Doe, Jane", res.Rows[0].CustomerName)
	assert.Equal(t, "Call back", res.Rows[0].Status)
}
