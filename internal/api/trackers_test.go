package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/models"
	"callcenter/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leads(n int) []byte {
	var b strings.Builder
	b.WriteString("Customer Name,Phone number,Status\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Lead %d,55500%d,Transferred\n", i, i)
	}
	return []byte(b.String())
}

func (f *apiFixture) postMultipart(t *testing.T, path, token string, fields map[string]string, fileName string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) client(t *testing.T, name string) int64 {
	t.Helper()
	u := &models.User{Email: name + "@clients.example.com", Password: "x", Name: name, Slug: name}
	require.NoError(t, f.db.CreateUser(context.Background(), u, nil))
	return u.ID
}

func TestTrackerUploadFlow(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "ops@example.com")
	clientID := f.client(t, "acme")
	cid := fmt.Sprint(clientID)

	resp := f.postMultipart(t, "/tracker/upload", token, map[string]string{"date": "2024-03-01"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Client ID is required", errorOf(t, resp))

	resp = f.postMultipart(t, "/tracker/upload", token, map[string]string{
		"client_id": cid, "date": "2024-03-01", "gross_transfer": "5",
	}, "leads.csv", leads(3))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "gross_transfer_mismatch", errorOf(t, resp))

	resp = f.do(t, http.MethodPost, "/report/tracker-data", token, map[string]any{"client_id": cid})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[listResponse](t, resp).Meta.Total)

	resp = f.postMultipart(t, "/tracker/upload", token, map[string]string{
		"client_id": cid, "date": "2024-03-01", "gross_transfer": "3", "no_of_dials": "120", "no_of_contacts": "30",
	}, "leads.csv", leads(3))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[struct {
		Success       bool             `json:"success"`
		Data          models.LgTracker `json:"data"`
		UploadedCount int              `json:"uploaded_count"`
	}](t, resp)
	assert.True(t, saved.Success)
	assert.Equal(t, 3, saved.UploadedCount)
	assert.Equal(t, models.UploadSuccess, saved.Data.Status)
	assert.Equal(t, 120, saved.Data.NoOfDials)

	resp = f.postMultipart(t, "/tracker/upload", token, map[string]string{"client_id": cid, "date": "2024-03-05"}, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	noFile := decode[struct {
		Data models.LgTracker `json:"data"`
	}](t, resp)
	assert.Equal(t, models.UploadNoFile, noFile.Data.Status)

	resp = f.do(t, http.MethodPost, "/report/tracker/uploaded-data", token, map[string]any{
		"lg_tracker_id": fmt.Sprint(saved.Data.ID), "page": 1, "perPage": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[struct {
		LgData models.LgTracker      `json:"lgData"`
		Data   []models.UploadedData `json:"data"`
		Meta   models.Meta           `json:"meta"`
	}](t, resp)
	assert.Len(t, rows.Data, 2)
	assert.Equal(t, 3, rows.Meta.Total)
	require.NotNil(t, rows.LgData.Client)
	assert.Equal(t, "acme", rows.LgData.Client.Name)

	resp = f.do(t, http.MethodGet, "/report/tracker-data?client_id="+cid+"&start_date=2024-03-02", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[listResponse](t, resp).Meta.Total)

	resp = f.do(t, http.MethodPost, "/report/tracker-data", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Client ID is required", errorOf(t, resp))

	resp = f.do(t, http.MethodGet, "/report/tracker-download?client_id="+cid, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "tracker-data.csv")
	csv, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Client"))

	resp = f.do(t, http.MethodGet, "/report/tracker-download?format=xlsx&client_id="+cid, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workbook, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(workbook, []byte("PK")))

	resp = f.do(t, http.MethodGet, "/report/tracker-download?format=pdf", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodDelete, fmt.Sprintf("/tracker/%d", saved.Data.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/report/tracker/uploaded-data", token, map[string]any{"lg_tracker_id": saved.Data.ID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateTracker(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "ops@example.com")
	clientID := f.client(t, "globex")

	resp := f.do(t, http.MethodPost, "/tracker", token, map[string]any{"date": "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/tracker", token, map[string]any{
		"client_id": clientID, "date": "2024-01-02", "no_of_contacts": 12, "gross_transfer": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Success bool             `json:"success"`
		Data    models.LgTracker `json:"data"`
	}](t, resp)
	assert.True(t, body.Success)
	assert.NotZero(t, body.Data.ID)
	assert.Equal(t, models.UploadNoFile, body.Data.Status)
}

func TestUploadEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "ops@example.com")
	cid := fmt.Sprint(f.client(t, "initech"))

	resp := f.postMultipart(t, "/upload", token, map[string]string{"client_id": cid}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "File is required", errorOf(t, resp))

	resp = f.postMultipart(t, "/upload", token, map[string]string{"client_id": cid}, "leads.csv", leads(4))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	uploaded := decode[struct {
		Message string           `json:"message"`
		Data    models.UploadLog `json:"data"`
	}](t, resp)
	assert.Equal(t, "File uploaded successfully", uploaded.Message)
	assert.Equal(t, 4, uploaded.Data.Count)
	assert.Equal(t, models.UploadSuccess, uploaded.Data.Status)

	today := time.Now().UTC().Format(models.DateLayout)
	resp = f.do(t, http.MethodGet, "/report/uploaded-data?client_id="+cid+"&start_date="+today+"&end_date="+today, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode[struct {
		Data []models.UploadedData `json:"data"`
	}](t, resp)
	assert.Len(t, data.Data, 4)

	resp = f.do(t, http.MethodGet, "/report/uploaded-data", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodGet, "/upload/sample", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "attachment; filename=upload_sample.csv", resp.Header.Get("Content-Disposition"))
	sample, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(sample), "Customer Name,Phone number,Status"))
}

func TestUploadTooLarge(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) { c.Uploads.MaxBytes = 1024 })
	token, _ := f.login(t, "ops@example.com")
	cid := fmt.Sprint(f.client(t, "hooli"))

	resp := f.postMultipart(t, "/upload", token, map[string]string{"client_id": cid}, "big.csv", leads(200))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "file too large", errorOf(t, resp))
}

func TestChartEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	token, _ := f.login(t, "ops@example.com")
	clientID := f.client(t, "umbrella")

	today := time.Now().Format(models.DateLayout)
	for _, tr := range []models.LgTracker{
		{ClientID: clientID, Date: today, NoOfContacts: 20, NoOfDials: 100, GrossTransfer: 5, Status: models.UploadNoFile},
		{ClientID: clientID, Date: today, NoOfContacts: 20, NoOfDials: 50, GrossTransfer: 3, Status: models.UploadNoFile},
	} {
		tr := tr
		require.NoError(t, f.db.CreateTracker(ctx, &tr))
	}

	resp := f.do(t, http.MethodPost, "/contacts-number", token, map[string]any{"dateFilter": report.FilterLast7})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "clientId is required", errorOf(t, resp))

	resp = f.do(t, http.MethodPost, "/dials-number", token, map[string]any{"clientId": clientID, "dateFilter": "someday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	cases := map[string]struct {
		key  string
		want float64
	}{
		"/contacts-number":       {key: "contacts", want: 40},
		"/dials-number":          {key: "dials", want: 150},
		"/conversion-percentage": {key: "conversion", want: 20},
		"/uploads-report":        {key: "value", want: 0},
	}
	for path, tc := range cases {
		t.Run(strings.TrimPrefix(path, "/"), func(t *testing.T) {
			resp := f.do(t, http.MethodPost, path, token, map[string]any{"clientId": clientID, "dateFilter": report.FilterLast7})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			points := decode[[]map[string]any](t, resp)
			require.Len(t, points, 7)
			last := points[6]
			assert.Contains(t, last, "name")
			assert.Equal(t, tc.want, last[tc.key])
		})
	}

	resp = f.do(t, http.MethodPost, "/contacts-number", token, map[string]any{
		"clientId": clientID, "dateFilter": report.FilterCustom,
		"customRange": map[string]string{"start": "2024-01-01", "end": "2024-01-31"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	points := decode[[]map[string]any](t, resp)
	assert.Len(t, points, 8)
	assert.Equal(t, "Jan 1 - Jan 4", points[0]["name"])
}
