package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"callcenter/internal/models"
)

const uploadedDataColumns = `id, client_id, upload_log_id, lg_tracker_id, customer_name, phone_number, status, created_at, updated_at`

func (db *DB) queryUploadedData(ctx context.Context, query string, args ...any) ([]models.UploadedData, error) {
	rows, err := db.query(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UploadedData{}
	for rows.Next() {
		var (
			d                models.UploadedData
			logID, trackerID sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.ClientID, &logID, &trackerID, &d.CustomerName, &d.PhoneNumber, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if logID.Valid {
			d.UploadLogID = &logID.Int64
		}
		if trackerID.Valid {
			d.LgTrackerID = &trackerID.Int64
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateUploadLog inserts a batch in the processing state.
func (db *DB) CreateUploadLog(ctx context.Context, log *models.UploadLog) error {
	now := time.Now().UTC()
	if log.Status == "" {
		log.Status = models.UploadProcessing
	}
	log.CreatedAt = now
	log.UpdatedAt = now
	id, err := db.insert(ctx, db, `INSERT INTO upload_log (client_id, file_name, count, status, date, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		log.ClientID, log.FileName, log.Count, log.Status, nullString(log.Date), now, now)
	if err != nil {
		return fmt.Errorf("failed to create upload log: %w", err)
	}
	log.ID = id
	return nil
}

// CompleteUploadLog attaches rows to the batch and records its final
// count and status in one transaction.
func (db *DB) CompleteUploadLog(ctx context.Context, log *models.UploadLog, rows []models.LeadRow) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		logID := log.ID
		if err := db.insertLeadRows(ctx, tx, log.ClientID, &logID, nil, rows); err != nil {
			return err
		}
		log.UpdatedAt = time.Now().UTC()
		res, err := db.exec(ctx, tx, `UPDATE upload_log SET count = ?, status = ?, updated_at = ? WHERE id = ?`,
			log.Count, log.Status, log.UpdatedAt, log.ID)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
	if err != nil {
		return fmt.Errorf("failed to complete upload log: %w", err)
	}
	return nil
}

// MarkUploadLog records a terminal status without touching rows.
func (db *DB) MarkUploadLog(ctx context.Context, id int64, status string) error {
	res, err := db.exec(ctx, db, `UPDATE upload_log SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark upload log: %w", err)
	}
	return requireAffected(res)
}

// ListUploadedData returns rows uploaded by the client, newest first,
// optionally bounded by created_at.
func (db *DB) ListUploadedData(ctx context.Context, clientID int64, from, to *time.Time) ([]models.UploadedData, error) {
	clauses := []string{`client_id = ?`}
	args := []any{clientID}
	if from != nil {
		clauses = append(clauses, `created_at >= ?`)
		args = append(args, from.UTC())
	}
	if to != nil {
		clauses = append(clauses, `created_at <= ?`)
		args = append(args, to.UTC())
	}
	data, err := db.queryUploadedData(ctx,
		`SELECT `+uploadedDataColumns+` FROM uploaded_data WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded data: %w", err)
	}
	return data, nil
}
