package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callcenter/internal/ingest"
	"callcenter/internal/models"
	"callcenter/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (a *recordingArchiver) Archive(_ context.Context, _ int64, name string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.names = append(a.names, name)
	return "uploads/" + name, nil
}

func leadsCSV(n int) []byte {
	var b strings.Builder
	b.WriteString("Customer Name,Phone number,Status\n")
	for i := 0; i < n; i++ {
		b.WriteString("Lead,555000,Transferred\n")
	}
	return []byte(b.String())
}

func TestTrackerService_Upload(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	archiver := &recordingArchiver{}
	svc := NewTrackerService(db, archiver, nil)
	client := seedUser(t, db, "client@example.com", "acme")

	_, err := svc.Upload(ctx, TrackerUpload{ClientID: client.ID})
	require.Error(t, err)
	assert.Equal(t, "Date is required", err.Error())

	_, err = svc.Upload(ctx, TrackerUpload{Date: "2024-03-01"})
	assert.Equal(t, "Client ID is required", err.Error())

	_, err = svc.Upload(ctx, TrackerUpload{
		ClientID: client.ID, Date: "2024-03-01", GrossTransfer: 3,
		File: &UploadFile{Name: "short.csv", Data: leadsCSV(2)},
	})
	assert.ErrorIs(t, err, ErrGrossTransferMismatch)

	all := models.Page{Page: 1, PerPage: 10}
	trackers, meta, err := svc.List(ctx, client.ID, models.DateWindow{}, all)
	require.NoError(t, err)
	assert.Empty(t, trackers)
	assert.Zero(t, meta.Total)
	assert.Empty(t, archiver.names)

	saved, err := svc.Upload(ctx, TrackerUpload{
		ClientID: client.ID, Date: "2024-03-01T10:00:00Z", NoOfContacts: 10, GrossTransfer: 2,
		File: &UploadFile{Name: "leads.csv", Data: leadsCSV(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, models.UploadSuccess, saved.Status)
	assert.Equal(t, "2024-03-01", saved.Date)
	assert.Equal(t, 2, saved.Count)
	assert.Equal(t, []string{"leads.csv"}, archiver.names)

	_, rows, meta, err := svc.Rows(ctx, saved.ID, all)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, meta.Total)

	// Replacing the file swaps the rows wholesale.
	_, err = svc.Upload(ctx, TrackerUpload{
		TrackerID: saved.ID, ClientID: client.ID, Date: "2024-03-01", GrossTransfer: 1,
		File: &UploadFile{Name: "fixed.csv", Data: leadsCSV(1)},
	})
	require.NoError(t, err)
	tracker, rows, _, err := svc.Rows(ctx, saved.ID, all)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "fixed.csv", tracker.FileName)

	// Without a file the counters change and the rows stay.
	_, err = svc.Upload(ctx, TrackerUpload{TrackerID: saved.ID, ClientID: client.ID, Date: "2024-03-02", NoOfDials: 50, GrossTransfer: 1})
	require.NoError(t, err)
	tracker, rows, _, err = svc.Rows(ctx, saved.ID, all)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 50, tracker.NoOfDials)
	assert.Equal(t, "fixed.csv", tracker.FileName)

	noFile, err := svc.Upload(ctx, TrackerUpload{ClientID: client.ID, Date: "2024-03-03"})
	require.NoError(t, err)
	assert.Equal(t, models.UploadNoFile, noFile.Status)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(ctx, &buf, FormatCSV, client.ID, models.DateWindow{Start: "2024-03-02"}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Client"))

	assert.True(t, IsValidation(svc.Export(ctx, &buf, "pdf", client.ID, models.DateWindow{})))

	require.NoError(t, svc.Delete(ctx, saved.ID))
	_, _, _, err = svc.Rows(ctx, saved.ID, all)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrackerService_Chart(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	svc := NewTrackerService(db, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 13, 15, 0, 0, 0, time.UTC) }
	client := seedUser(t, db, "chart@example.com", "chart")

	for _, tr := range []models.LgTracker{
		{ClientID: client.ID, Date: "2024-03-13", NoOfContacts: 10, GrossTransfer: 1},
		{ClientID: client.ID, Date: "2024-03-13", NoOfContacts: 30, GrossTransfer: 3},
		{ClientID: client.ID, Date: "2024-03-10", NoOfContacts: 5},
		{ClientID: client.ID, Date: "2024-02-01", NoOfContacts: 99},
	} {
		tr := tr
		require.NoError(t, svc.Create(ctx, &tr))
	}

	req := ChartRequest{ClientID: client.ID, DateFilter: report.FilterLast7}
	points, err := svc.Chart(ctx, req, report.Contacts)
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, "Mar 7", points[0].Name)
	assert.Equal(t, float64(5), points[3].Value)
	assert.Equal(t, float64(40), points[6].Value)

	conversion, err := svc.Chart(ctx, req, report.Conversion)
	require.NoError(t, err)
	assert.Equal(t, float64(10), conversion[6].Value)

	_, err = svc.Chart(ctx, ChartRequest{ClientID: client.ID, DateFilter: "yesterday"}, report.Contacts)
	assert.True(t, IsValidation(err))

	_, err = svc.Chart(ctx, ChartRequest{DateFilter: report.FilterLast7}, report.Contacts)
	assert.True(t, IsValidation(err))
}

func TestUploadService(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	archiver := &recordingArchiver{err: errors.New("bucket gone")}
	svc := NewUploadService(db, archiver, nil)
	client := seedUser(t, db, "up@example.com", "up")

	_, err := svc.Upload(ctx, client.ID, nil)
	require.Error(t, err)
	assert.Equal(t, "File is required", err.Error())

	log, err := svc.Upload(ctx, client.ID, &UploadFile{Name: "sample.csv", Data: []byte(ingest.SampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, models.UploadSuccess, log.Status)
	assert.Equal(t, 2, log.Count)

	empty, err := svc.Upload(ctx, client.ID, &UploadFile{Name: "bad.csv", Data: []byte("Name,Phone\nA,1\n")})
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, empty.Status)
	assert.Zero(t, empty.Count)

	today := time.Now().UTC().Format(models.DateLayout)
	rows, err := svc.UploadedData(ctx, client.ID, today, today)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = svc.UploadedData(ctx, client.ID, "", "2000-01-01")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = svc.UploadedData(ctx, 0, "", "")
	assert.True(t, IsValidation(err))
}
