package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

const profileColumns = "id, schema_version, name_first, name_last, address, city, state, zip, employer, occupation, card_last_four, card_hash, gateway_token, created_at"

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(&p.ID, &p.SchemaVersion, &p.NameFirst, &p.NameLast,
		&p.Address, &p.City, &p.State, &p.Zip, &p.Employer, &p.Occupation,
		&p.CardLastFour, &p.CardHash, &p.GatewayToken, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProfile persists a validated profile. Profiles are immutable;
// there is no update statement anywhere in this package.
func (s *SQLiteStore) CreateProfile(ctx context.Context, profile *models.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if profile.CreatedAt == 0 {
		profile.CreatedAt = time.Now().Unix()
	}
	profile.SchemaVersion = models.ProfileSchemaVersion

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO profiles ("+profileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		profile.ID, profile.SchemaVersion, profile.NameFirst, profile.NameLast,
		profile.Address, profile.City, profile.State, profile.Zip,
		profile.Employer, profile.Occupation, profile.CardLastFour,
		profile.CardHash, profile.GatewayToken, profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ProfilesByCardLastFour narrows profiles by the stored last four digits.
// Callers confirm candidates against the bcrypt card hash.
func (s *SQLiteStore) ProfilesByCardLastFour(ctx context.Context, lastFour string) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE card_last_four = ? ORDER BY created_at",
		lastFour,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// CreateNotification records a state transition for the supporter to see.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO notifications (id, profile_id, pledge_id, kind, text, created_at, acknowledged_at) VALUES (?, ?, ?, ?, ?, ?, 0)",
		n.ID, n.ProfileID, n.PledgeID, n.Kind, n.Text, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// NotificationsByProfile returns the profile's notification snapshot,
// newest first.
func (s *SQLiteStore) NotificationsByProfile(ctx context.Context, profileID string) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, pledge_id, kind, text, created_at, acknowledged_at
		FROM notifications WHERE profile_id = ? ORDER BY created_at DESC, id`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.ProfileID, &n.PledgeID, &n.Kind, &n.Text, &n.CreatedAt, &n.AcknowledgedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// AcknowledgeNotification marks a notification read and returns the owning
// profile's updated snapshot.
func (s *SQLiteStore) AcknowledgeNotification(ctx context.Context, id string) ([]*models.Notification, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx,
		"SELECT profile_id FROM notifications WHERE id = ?", id,
	).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE notifications SET acknowledged_at = ? WHERE id = ? AND acknowledged_at = 0",
		time.Now().Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge notification: %w", err)
	}

	return s.NotificationsByProfile(ctx, profileID)
}
