package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"callcenter/internal/ingest"
	"callcenter/internal/models"
	"callcenter/internal/report"
	"callcenter/internal/service"
)

func (s *Server) handleCreateTracker(w http.ResponseWriter, r *http.Request) {
	var t models.LgTracker
	if !decodeJSON(w, r, &t) {
		return
	}
	if err := s.svc.Trackers.Create(r.Context(), &t); err != nil {
		s.fail(w, r, err, "create_tracker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": t})
}

func (s *Server) handleTrackerUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}

	tracker, err := s.svc.Trackers.Upload(r.Context(), service.TrackerUpload{
		TrackerID:     parseID(r.FormValue("lg_tracker_id")),
		ClientID:      parseID(r.FormValue("client_id")),
		NoOfDials:     formInt(r, "no_of_dials"),
		NoOfContacts:  formInt(r, "no_of_contacts"),
		GrossTransfer: formInt(r, "gross_transfer"),
		NetTransfer:   formInt(r, "net_transfer"),
		Date:          strings.TrimSpace(r.FormValue("date")),
		File:          file,
	})
	if err != nil {
		s.fail(w, r, err, "save_tracker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Tracker saved successfully",
		"data":           tracker,
		"uploaded_count": tracker.Count,
	})
}

func (s *Server) handleDeleteTracker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Trackers.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err, "delete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleTrackerRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackerID intParam `json:"lg_tracker_id"`
		Page      intParam `json:"page"`
		PerPage   intParam `json:"perPage"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	page := models.NewPage(req.Page.String(), req.PerPage.String(), models.DefaultPerPage, models.MaxPerPage)
	tracker, rows, meta, err := s.svc.Trackers.Rows(r.Context(), int64(req.TrackerID), page)
	if err != nil {
		s.fail(w, r, err, "fetch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lgData": tracker, "data": rows, "meta": meta})
}

// handleTrackerData accepts its filter either as a JSON body (POST) or as
// query parameters (GET).
func (s *Server) handleTrackerData(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID  intParam `json:"client_id"`
		StartDate string   `json:"start_date"`
		EndDate   string   `json:"end_date"`
		Page      intParam `json:"page"`
		PerPage   intParam `json:"perPage"`
	}
	var rawPage, rawPerPage string
	if r.Method == http.MethodPost {
		if !decodeJSON(w, r, &req) {
			return
		}
		rawPage, rawPerPage = req.Page.String(), req.PerPage.String()
	} else {
		q := r.URL.Query()
		req.ClientID = intParam(parseID(q.Get("client_id")))
		req.StartDate, req.EndDate = q.Get("start_date"), q.Get("end_date")
		rawPage, rawPerPage = q.Get("page"), q.Get("perPage")
	}
	if req.ClientID <= 0 {
		writeError(w, http.StatusBadRequest, "Client ID is required")
		return
	}

	page := models.NewPage(rawPage, rawPerPage, models.DefaultPerPage, models.MaxPerPage)
	window := models.DateWindow{Start: req.StartDate, End: req.EndDate}
	trackers, meta, err := s.svc.Trackers.List(r.Context(), int64(req.ClientID), window, page)
	if err != nil {
		s.fail(w, r, err, "fetch_tracker_data")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: trackers, Meta: meta})
}

// handleTrackerDownload renders the export fully before sending headers so
// a failure still gets a JSON error.
func (s *Server) handleTrackerDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(q.Get("format")))
	if format == "" {
		format = service.FormatCSV
	}
	window := models.DateWindow{Start: q.Get("start_date"), End: q.Get("end_date")}

	var buf bytes.Buffer
	if err := s.svc.Trackers.Export(r.Context(), &buf, format, parseID(q.Get("client_id")), window); err != nil {
		s.fail(w, r, err, "export")
		return
	}

	contentType := "text/csv"
	if format == service.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tracker-data.%s", format))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return
	}
	log, err := s.svc.Uploads.Upload(r.Context(), parseID(r.FormValue("client_id")), file)
	if err != nil {
		s.fail(w, r, err, "upload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "File uploaded successfully", "data": log})
}

func (s *Server) handleUploadSample(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=upload_sample.csv")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ingest.SampleCSV)
}

func (s *Server) handleUploadedData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.svc.Uploads.UploadedData(r.Context(), parseID(q.Get("client_id")), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		s.fail(w, r, err, "fetch_report_data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

// chart serves one of the report charts; they differ only in the selector.
func (s *Server) chart(sel report.Selector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ChartRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		points, err := s.svc.Trackers.Chart(r.Context(), req, sel)
		if err != nil {
			s.fail(w, r, err, "chart")
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// parseMultipart caps the body at uploads.max_bytes and parses the form.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	limit := s.cfg.Uploads.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return false
	}
	return true
}

// formFile reads an optional multipart file into memory. A missing file is
// not an error.
func formFile(r *http.Request, field string) (*service.UploadFile, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &service.UploadFile{Name: header.Filename, Data: data}, nil
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.FormValue(key)))
	if err != nil {
		return 0
	}
	return n
}
