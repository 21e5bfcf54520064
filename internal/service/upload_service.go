package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"callcenter/internal/domain"
	"callcenter/internal/ingest"
	"callcenter/internal/metrics"
	"callcenter/internal/models"
	"callcenter/internal/storage"

	"github.com/rs/zerolog"
)

type UploadService struct {
	repo     domain.UploadRepository
	archiver storage.Archiver
	logger   *zerolog.Logger
}

func NewUploadService(repo domain.UploadRepository, archiver storage.Archiver, logger *zerolog.Logger) *UploadService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UploadService{repo: repo, archiver: archiver, logger: logger}
}

// Upload records a batch as processing, attaches the accepted rows and
// settles it as success, or failed when no row was accepted.
func (s *UploadService) Upload(ctx context.Context, clientID int64, file *UploadFile) (*models.UploadLog, error) {
	if clientID <= 0 {
		return nil, invalid("Client ID is required")
	}
	if file == nil {
		return nil, invalid("File is required")
	}

	log := &models.UploadLog{
		ClientID: clientID,
		FileName: file.Name,
		Status:   models.UploadProcessing,
	}
	if err := s.repo.CreateUploadLog(ctx, log); err != nil {
		return nil, err
	}

	parsed, err := ingest.ParseLeads(bytes.NewReader(file.Data))
	if err != nil {
		s.markFailed(ctx, log)
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	if len(parsed.MissingColumns) > 0 {
		s.logger.Info().Strs("missing", parsed.MissingColumns).Int64("upload_log_id", log.ID).Msg("Upload lacks columns")
	}

	log.Count = parsed.Accepted()
	log.Status = models.UploadFailed
	if log.Count > 0 {
		log.Status = models.UploadSuccess
	}
	if err := s.repo.CompleteUploadLog(ctx, log, parsed.Rows); err != nil {
		s.markFailed(ctx, log)
		return nil, err
	}
	metrics.AddRowsIngested("upload", log.Count)

	archive(ctx, s.archiver, s.logger, clientID, file)

	s.logger.Info().
		Int64("upload_log_id", log.ID).
		Int64("client_id", clientID).
		Int("rows", log.Count).
		Int("skipped", parsed.Skipped).
		Str("status", log.Status).
		Msg("Upload processed")
	return log, nil
}

func (s *UploadService) markFailed(ctx context.Context, log *models.UploadLog) {
	log.Status = models.UploadFailed
	if err := s.repo.MarkUploadLog(ctx, log.ID, models.UploadFailed); err != nil {
		s.logger.Warn().Err(err).Int64("upload_log_id", log.ID).Msg("Failed to mark upload failed")
	}
}

// UploadedData lists the client's rows with created_at inside [from, to].
// An end bound without a time of day covers that whole day.
func (s *UploadService) UploadedData(ctx context.Context, clientID int64, startDate, endDate string) ([]models.UploadedData, error) {
	if clientID <= 0 {
		return nil, invalid("Client ID is required")
	}
	var from, to *time.Time
	if startDate != "" {
		d, err := normalizeDate(startDate)
		if err != nil {
			return nil, err
		}
		t, _ := time.Parse(models.DateLayout, d)
		from = &t
	}
	if endDate != "" {
		d, err := normalizeDate(endDate)
		if err != nil {
			return nil, err
		}
		t, _ := time.Parse(models.DateLayout, d)
		t = t.Add(24*time.Hour - time.Nanosecond)
		to = &t
	}
	rows, err := s.repo.ListUploadedData(ctx, clientID, from, to)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.UploadedData{}
	}
	return rows, nil
}
