package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/metrics"
	"callcenter/internal/models"
	"callcenter/internal/report"
	"callcenter/internal/storage"

	"github.com/rs/zerolog"
)

// Export formats for tracker downloads.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// UploadFile is a received multipart file held in memory.
type UploadFile struct {
	Name string
	Data []byte
}

// TrackerUpload is the multipart tracker form. A zero TrackerID creates a
// new tracker.
type TrackerUpload struct {
	TrackerID     int64
	ClientID      int64
	NoOfDials     int
	NoOfContacts  int
	GrossTransfer int
	NetTransfer   int
	Date          string
	File          *UploadFile
}

type ChartRequest struct {
	ClientID    int64  `json:"clientId"`
	DateFilter  string `json:"dateFilter"`
	CustomRange struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"customRange"`
}

type TrackerService struct {
	repo     domain.TrackerRepository
	archiver storage.Archiver
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewTrackerService wires the tracker repository. archiver may be nil.
func NewTrackerService(repo domain.TrackerRepository, archiver storage.Archiver, logger *zerolog.Logger) *TrackerService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TrackerService{repo: repo, archiver: archiver, logger: logger, now: time.Now}
}

func (s *TrackerService) Create(ctx context.Context, t *models.LgTracker) error {
	if t.ClientID <= 0 {
		return invalid("Client ID is required")
	}
	date, err := normalizeDate(t.Date)
	if err != nil {
		return err
	}
	t.Date = date
	if t.Status == "" {
		t.Status = models.UploadNoFile
	}
	return s.repo.CreateTracker(ctx, t)
}

// Upload creates or updates a tracker from the multipart form. With a file,
// the accepted row count must equal GrossTransfer or nothing is written,
// and the tracker's rows are replaced by the file's rows.
func (s *TrackerService) Upload(ctx context.Context, req TrackerUpload) (*models.LgTracker, error) {
	if req.ClientID <= 0 {
		return nil, invalid("Client ID is required")
	}
	if strings.TrimSpace(req.Date) == "" {
		return nil, invalid("Date is required")
	}
	date, err := normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}

	tracker := &models.LgTracker{
		ID:            req.TrackerID,
		ClientID:      req.ClientID,
		NoOfDials:     req.NoOfDials,
		NoOfContacts:  req.NoOfContacts,
		GrossTransfer: req.GrossTransfer,
		NetTransfer:   req.NetTransfer,
		Date:          date,
		Status:        models.UploadNoFile,
	}

	var rows []models.LeadRow
	if req.File != nil {
		parsed, err := ingest.ParseLeads(bytes.NewReader(req.File.Data))
		if err != nil {
			return nil, invalid("invalid csv file")
		}
		if parsed.Accepted() != req.GrossTransfer {
			s.logger.Info().
				Int64("client_id", req.ClientID).
				Int("rows", parsed.Accepted()).
				Int("gross_transfer", req.GrossTransfer).
				Msg("Tracker upload rejected")
			return nil, ErrGrossTransferMismatch
		}
		rows = parsed.Rows
		tracker.FileName = req.File.Name
		tracker.Count = len(rows)
		tracker.Status = models.UploadFailed
		if len(rows) > 0 {
			tracker.Status = models.UploadSuccess
		}
	}

	if err := s.repo.SaveTrackerUpload(ctx, tracker, rows, req.File != nil); err != nil {
		return nil, err
	}
	metrics.AddRowsIngested("tracker", len(rows))

	if req.File != nil {
		archive(ctx, s.archiver, s.logger, req.ClientID, req.File)
	}

	s.logger.Info().
		Int64("tracker_id", tracker.ID).
		Int64("client_id", tracker.ClientID).
		Str("status", tracker.Status).
		Int("rows", tracker.Count).
		Msg("Tracker saved")
	return tracker, nil
}

func (s *TrackerService) Delete(ctx context.Context, id int64) error {
	return s.repo.DeleteTracker(ctx, id)
}

// Rows pages the rows uploaded against a tracker.
func (s *TrackerService) Rows(ctx context.Context, trackerID int64, page models.Page) (*models.LgTracker, []models.UploadedData, models.Meta, error) {
	if trackerID <= 0 {
		return nil, nil, models.Meta{}, invalid("lg_tracker_id is required")
	}
	tracker, err := s.repo.GetTracker(ctx, trackerID)
	if err != nil {
		return nil, nil, models.Meta{}, err
	}
	rows, total, err := s.repo.ListTrackerRows(ctx, trackerID, page)
	if err != nil {
		return nil, nil, models.Meta{}, err
	}
	if rows == nil {
		rows = []models.UploadedData{}
	}
	return tracker, rows, page.Meta(total), nil
}

// List pages trackers for a client, newest first. clientID 0 means all clients.
func (s *TrackerService) List(ctx context.Context, clientID int64, window models.DateWindow, page models.Page) ([]models.LgTracker, models.Meta, error) {
	window, err := normalizeWindow(window)
	if err != nil {
		return nil, models.Meta{}, err
	}
	trackers, total, err := s.repo.ListTrackers(ctx, clientID, window, page)
	if err != nil {
		return nil, models.Meta{}, err
	}
	if trackers == nil {
		trackers = []models.LgTracker{}
	}
	return trackers, page.Meta(total), nil
}

// Export writes every matching tracker in the requested format.
func (s *TrackerService) Export(ctx context.Context, w io.Writer, format string, clientID int64, window models.DateWindow) error {
	window, err := normalizeWindow(window)
	if err != nil {
		return err
	}
	trackers, err := s.repo.ListTrackersForExport(ctx, clientID, window)
	if err != nil {
		return err
	}
	switch format {
	case FormatXLSX:
		return report.WriteTrackersXLSX(w, trackers)
	case FormatCSV, "":
		return report.WriteTrackersCSV(w, trackers)
	default:
		return invalid("unsupported format")
	}
}

// Chart sums the client's daily metrics over the requested range and
// projects them through sel.
func (s *TrackerService) Chart(ctx context.Context, req ChartRequest, sel report.Selector) ([]report.Point, error) {
	if req.ClientID <= 0 {
		return nil, invalid("clientId is required")
	}
	r, err := report.Resolve(req.DateFilter, req.CustomRange.Start, req.CustomRange.End, s.now())
	if err != nil {
		return nil, invalid(err.Error())
	}
	data, err := s.repo.DailyMetrics(ctx, req.ClientID, r.Window())
	if err != nil {
		return nil, fmt.Errorf("daily metrics: %w", err)
	}
	return report.Aggregate(r, data, sel), nil
}

// archive stores the raw file when object storage is configured. Failures
// are logged only.
func archive(ctx context.Context, a storage.Archiver, logger *zerolog.Logger, clientID int64, file *UploadFile) {
	if a == nil {
		return
	}
	key, err := a.Archive(ctx, clientID, file.Name, file.Data)
	if err != nil {
		logger.Warn().Err(err).Int64("client_id", clientID).Str("file", file.Name).Msg("Failed to archive upload")
		return
	}
	logger.Debug().Str("key", key).Msg("Upload archived")
}

// normalizeDate accepts YYYY-MM-DD or an RFC3339 timestamp and returns the
// date part.
func normalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(models.DateLayout, raw); err == nil {
		return t.Format(models.DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(models.DateLayout), nil
	}
	return "", invalid("invalid date")
}

func normalizeWindow(w models.DateWindow) (models.DateWindow, error) {
	var err error
	if w.Start != "" {
		if w.Start, err = normalizeDate(w.Start); err != nil {
			return w, err
		}
	}
	if w.End != "" {
		if w.End, err = normalizeDate(w.End); err != nil {
			return w, err
		}
	}
	return w, nil
}
