package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callcenter/internal/config"

	"github.com/rs/zerolog"
)

const backupPrefix = "callcenter_"

// BackupService snapshots the sqlite database file on a fixed interval.
type BackupService struct {
	dbPath string
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		dbPath: dbPath,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *BackupService) interval() time.Duration {
	if s.config.Schedule == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(s.config.Schedule)
	if err != nil || d <= 0 {
		s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Invalid backup schedule, using 24h")
		return 24 * time.Hour
	}
	return d
}

// Start blocks until ctx is done, taking a snapshot right away and then on every tick.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	every := s.interval()
	s.logger.Info().Dur("interval", every).Str("dir", s.config.StoragePath).Msg("Backup service started")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Database backup failed")
	}
	if removed := s.CleanupOldBackups(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old backups removed")
	}
}

// PerformBackup writes a consistent copy via VACUUM INTO and returns its path.
// A plain file copy is used when VACUUM INTO is unavailable.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.db", backupPrefix, s.now().Format("20060102_150405"))
	target := filepath.Join(s.config.StoragePath, name)

	src, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	quoted := strings.ReplaceAll(target, "'", "''")
	if _, err := src.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		if err := copyFile(s.dbPath, target); err != nil {
			return "", fmt.Errorf("fallback copy: %w", err)
		}
	}

	s.logger.Info().Str("path", target).Msg("Database backup written")
	return target, nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CleanupOldBackups deletes snapshots older than the retention window.
// Files not written by this service are left alone.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed
}
