package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"callcenter/internal/models"

	"golang.org/x/sync/errgroup"
)

const trackerColumns = `t.id, t.client_id, t.no_of_dials, t.no_of_contacts, t.gross_transfer,
        t.net_transfer, t.date, t.file_name, t.count, t.status, t.created_at, u.name`

const trackerFrom = ` FROM lg_tracker t LEFT JOIN users u ON u.id = t.client_id`

func scanTracker(row rowScanner) (models.LgTracker, error) {
	var (
		t          models.LgTracker
		clientName sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.ClientID,
		&t.NoOfDials,
		&t.NoOfContacts,
		&t.GrossTransfer,
		&t.NetTransfer,
		&t.Date,
		&t.FileName,
		&t.Count,
		&t.Status,
		&t.CreatedAt,
		&clientName,
	)
	if err != nil {
		return t, err
	}
	if t.ClientID > 0 {
		t.Client = &models.ClientRef{ID: t.ClientID, Name: clientName.String}
	}
	return t, nil
}

// trackerWhere builds the client/date filter shared by listing queries.
func trackerWhere(clientID int64, window models.DateWindow) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if clientID > 0 {
		clauses = append(clauses, `t.client_id = ?`)
		args = append(args, clientID)
	}
	if window.Start != "" {
		clauses = append(clauses, `t.date >= ?`)
		args = append(args, window.Start)
	}
	if window.End != "" {
		clauses = append(clauses, `t.date <= ?`)
		args = append(args, window.End)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (db *DB) queryTrackers(ctx context.Context, query string, args ...any) ([]models.LgTracker, error) {
	rows, err := db.query(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trackers := []models.LgTracker{}
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}
	return trackers, rows.Err()
}

func (db *DB) CreateTracker(ctx context.Context, tracker *models.LgTracker) error {
	return db.SaveTrackerUpload(ctx, tracker, nil, false)
}

func (db *DB) insertTracker(ctx context.Context, q querier, t *models.LgTracker) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	id, err := db.insert(ctx, q, `INSERT INTO lg_tracker (
            client_id, no_of_dials, no_of_contacts, gross_transfer, net_transfer,
            date, file_name, count, status, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ClientID,
		t.NoOfDials,
		t.NoOfContacts,
		t.GrossTransfer,
		t.NetTransfer,
		t.Date,
		t.FileName,
		t.Count,
		t.Status,
		t.CreatedAt,
	)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// SaveTrackerUpload creates the tracker (ID == 0) or updates it in place.
// With replaceRows the tracker's uploaded rows are swapped for rows;
// otherwise its existing rows and file fields are left untouched on update.
// Everything happens in one transaction.
func (db *DB) SaveTrackerUpload(ctx context.Context, tracker *models.LgTracker, rows []models.LeadRow, replaceRows bool) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if tracker.ID == 0 {
			if err := db.insertTracker(ctx, tx, tracker); err != nil {
				return err
			}
		} else {
			query := `UPDATE lg_tracker SET client_id = ?, no_of_dials = ?, no_of_contacts = ?,
                gross_transfer = ?, net_transfer = ?, date = ?`
			args := []any{
				tracker.ClientID,
				tracker.NoOfDials,
				tracker.NoOfContacts,
				tracker.GrossTransfer,
				tracker.NetTransfer,
				tracker.Date,
			}
			if replaceRows {
				query += `, file_name = ?, count = ?, status = ?`
				args = append(args, tracker.FileName, tracker.Count, tracker.Status)
			}
			args = append(args, tracker.ID)
			res, err := db.exec(ctx, tx, query+` WHERE id = ?`, args...)
			if err != nil {
				return err
			}
			if err := requireAffected(res); err != nil {
				return err
			}
			if replaceRows {
				if _, err := db.exec(ctx, tx, `DELETE FROM uploaded_data WHERE lg_tracker_id = ?`, tracker.ID); err != nil {
					return fmt.Errorf("clear tracker rows: %w", err)
				}
			}
		}
		if !replaceRows {
			return nil
		}
		trackerID := tracker.ID
		return db.insertLeadRows(ctx, tx, tracker.ClientID, nil, &trackerID, rows)
	})
	if err != nil {
		return fmt.Errorf("failed to save tracker: %w", err)
	}
	return nil
}

func (db *DB) insertLeadRows(ctx context.Context, q querier, clientID int64, logID, trackerID *int64, rows []models.LeadRow) error {
	now := time.Now().UTC()
	for i, r := range rows {
		_, err := db.insert(ctx, q, `INSERT INTO uploaded_data (
                client_id, upload_log_id, lg_tracker_id, customer_name, phone_number, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			clientID, nullInt64(logID), nullInt64(trackerID), r.CustomerName, r.PhoneNumber, r.Status, now, now)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	return nil
}

func (db *DB) GetTracker(ctx context.Context, id int64) (*models.LgTracker, error) {
	t, err := scanTracker(db.queryRow(ctx, db, `SELECT `+trackerColumns+trackerFrom+` WHERE t.id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// DeleteTracker removes the tracker and every row uploaded against it.
func (db *DB) DeleteTracker(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.exec(ctx, tx, `DELETE FROM uploaded_data WHERE lg_tracker_id = ?`, id); err != nil {
			return err
		}
		res, err := db.exec(ctx, tx, `DELETE FROM lg_tracker WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

// ListTrackers pages trackers newest date first.
func (db *DB) ListTrackers(ctx context.Context, clientID int64, window models.DateWindow, page models.Page) ([]models.LgTracker, int, error) {
	where, args := trackerWhere(clientID, window)

	var (
		total    int
		trackers []models.LgTracker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.queryRow(gctx, db, `SELECT COUNT(*) FROM lg_tracker t`+where, args...).Scan(&total)
	})
	g.Go(func() error {
		listArgs := append(append([]any{}, args...), page.PerPage, page.Offset())
		var err error
		trackers, err = db.queryTrackers(gctx,
			`SELECT `+trackerColumns+trackerFrom+where+` ORDER BY t.date DESC, t.id DESC LIMIT ? OFFSET ?`, listArgs...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("failed to list trackers: %w", err)
	}
	return trackers, total, nil
}

func (db *DB) ListTrackersForExport(ctx context.Context, clientID int64, window models.DateWindow) ([]models.LgTracker, error) {
	where, args := trackerWhere(clientID, window)
	trackers, err := db.queryTrackers(ctx, `SELECT `+trackerColumns+trackerFrom+where+` ORDER BY t.date ASC, t.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to export trackers: %w", err)
	}
	return trackers, nil
}

// DailyMetrics sums tracker counters per day for the client.
func (db *DB) DailyMetrics(ctx context.Context, clientID int64, window models.DateWindow) (map[string]models.DailyMetrics, error) {
	where, args := trackerWhere(clientID, window)
	rows, err := db.query(ctx, db, `
        SELECT t.date,
               COALESCE(SUM(t.no_of_dials), 0),
               COALESCE(SUM(t.no_of_contacts), 0),
               COALESCE(SUM(t.gross_transfer), 0),
               COALESCE(SUM(t.net_transfer), 0),
               COALESCE(SUM(t.count), 0)
        FROM lg_tracker t`+where+`
        GROUP BY t.date`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trackers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.DailyMetrics)
	for rows.Next() {
		var m models.DailyMetrics
		if err := rows.Scan(&m.Date, &m.NoOfDials, &m.NoOfContacts, &m.GrossTransfer, &m.NetTransfer, &m.Count); err != nil {
			return nil, err
		}
		out[m.Date] = m
	}
	return out, rows.Err()
}

func (db *DB) ListTrackerRows(ctx context.Context, trackerID int64, page models.Page) ([]models.UploadedData, int, error) {
	var (
		total int
		rows  []models.UploadedData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.queryRow(gctx, db, `SELECT COUNT(*) FROM uploaded_data WHERE lg_tracker_id = ?`, trackerID).Scan(&total)
	})
	g.Go(func() error {
		var err error
		rows, err = db.queryUploadedData(gctx,
			`SELECT `+uploadedDataColumns+` FROM uploaded_data WHERE lg_tracker_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`,
			trackerID, page.PerPage, page.Offset())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("failed to list tracker rows: %w", err)
	}
	return rows, total, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
