package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"callcenter/internal/models"
)

// ListOnlineUsers returns at most limit online users ordered by id.
func (db *DB) ListOnlineUsers(ctx context.Context, limit int) ([]models.PresenceEntry, error) {
	rows, err := db.query(ctx, db, `
        SELECT id, name, email, slug, socket_id, availability, contact_number
        FROM users
        WHERE availability = ?
        ORDER BY id ASC
        LIMIT ?`, models.AvailabilityOnline, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	defer rows.Close()

	entries := []models.PresenceEntry{}
	for rows.Next() {
		var (
			e                             models.PresenceEntry
			name, slug, socketID, contact sql.NullString
		)
		if err := rows.Scan(&e.ID, &name, &e.Email, &slug, &socketID, &e.Availability, &contact); err != nil {
			return nil, err
		}
		e.Name = name.String
		e.Slug = slug.String
		e.SocketID = socketID.String
		e.ContactNumber = contact.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkConnected records the live connection id and flips the user online.
func (db *DB) MarkConnected(ctx context.Context, userID int64, socketID string, at time.Time) error {
	res, err := db.exec(ctx, db,
		`UPDATE users SET socket_id = ?, availability = ?, last_active_at = ?, updated_at = ? WHERE id = ?`,
		socketID, models.AvailabilityOnline, at.UTC(), at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark user connected: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) MarkDisconnected(ctx context.Context, userID int64, at time.Time) error {
	res, err := db.exec(ctx, db,
		`UPDATE users SET socket_id = NULL, availability = ?, last_active_at = ?, updated_at = ? WHERE id = ?`,
		models.AvailabilityOffline, at.UTC(), at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to mark user disconnected: %w", err)
	}
	return requireAffected(res)
}

func (db *DB) SetAvailability(ctx context.Context, userID int64, availability string, at time.Time) error {
	res, err := db.exec(ctx, db,
		`UPDATE users SET availability = ?, last_active_at = ?, updated_at = ? WHERE id = ?`,
		availability, at.UTC(), at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return requireAffected(res)
}

// SaveTwilioIdentity stores the identity a Voice token was minted for.
func (db *DB) SaveTwilioIdentity(ctx context.Context, userID int64, identity string, issuedAt, expiresAt time.Time) error {
	res, err := db.exec(ctx, db,
		`UPDATE users SET twilio_identity = ?, twilio_token_issued_at = ?, twilio_token_expires_at = ?, updated_at = ? WHERE id = ?`,
		identity, issuedAt.UTC(), expiresAt.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to save twilio identity: %w", err)
	}
	return requireAffected(res)
}
