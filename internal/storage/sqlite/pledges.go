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

const pledgeColumns = "id, trigger_id, profile_id, amount, tip_amount, via_campaign, ref_code, status, created_at"

func scanPledge(row interface{ Scan(...any) error }) (*models.Pledge, error) {
	p := &models.Pledge{}
	var status string
	err := row.Scan(&p.ID, &p.TriggerID, &p.ProfileID, &p.Amount, &p.TipAmount,
		&p.ViaCampaign, &p.RefCode, &status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status, err = models.ParsePledgeStatus(status)
	if err != nil {
		return nil, fmt.Errorf("pledge %s: %w", p.ID, err)
	}
	return p, nil
}

// CreatePledge inserts a pledge and bumps the owning trigger's aggregates in
// the same transaction. The trigger row is re-checked inside the transaction
// so a pledge can never land on a trigger that has just resolved.
func (s *SQLiteStore) CreatePledge(ctx context.Context, pledge *models.Pledge) error {
	if pledge.Amount <= 0 {
		return fmt.Errorf("pledge amount must be positive, got %d", pledge.Amount)
	}
	if pledge.ID == "" {
		pledge.ID = uuid.New().String()
	}
	if pledge.CreatedAt == 0 {
		pledge.CreatedAt = time.Now().Unix()
	}
	pledge.Status = models.PledgeOpen

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var triggerStatus string
	err = tx.QueryRowContext(ctx, "SELECT status FROM triggers WHERE id = ?", pledge.TriggerID).Scan(&triggerStatus)
	if err == sql.ErrNoRows {
		return fmt.Errorf("trigger %s: %w", pledge.TriggerID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check trigger: %w", err)
	}
	if models.TriggerStatus(triggerStatus) != models.TriggerOpen {
		return fmt.Errorf("trigger %s: %w", pledge.TriggerID, storage.ErrTriggerNotOpen)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO pledges ("+pledgeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		pledge.ID, pledge.TriggerID, pledge.ProfileID, pledge.Amount, pledge.TipAmount,
		pledge.ViaCampaign, pledge.RefCode, string(pledge.Status), pledge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pledge: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE triggers SET pledge_count = pledge_count + 1, total_pledged = total_pledged + ? WHERE id = ?",
		pledge.Amount, pledge.TriggerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trigger aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPledge retrieves a pledge by ID.
func (s *SQLiteStore) GetPledge(ctx context.Context, id string) (*models.Pledge, error) {
	p, err := scanPledge(s.db.QueryRowContext(ctx,
		"SELECT "+pledgeColumns+" FROM pledges WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pledge: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) queryPledges(ctx context.Context, query string, args ...any) ([]*models.Pledge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pledges: %w", err)
	}
	defer rows.Close()

	var pledges []*models.Pledge
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pledge: %w", err)
		}
		pledges = append(pledges, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pledges: %w", err)
	}
	return pledges, nil
}

// OpenPledgesByTrigger lists pledges still Open under the trigger, oldest first.
func (s *SQLiteStore) OpenPledgesByTrigger(ctx context.Context, triggerID string) ([]*models.Pledge, error) {
	return s.queryPledges(ctx,
		"SELECT "+pledgeColumns+" FROM pledges WHERE trigger_id = ? AND status = ? ORDER BY created_at, id",
		triggerID, string(models.PledgeOpen))
}

// OpenPledgesOnExecutedTriggers lists pledges that are Open while their
// trigger has already executed: work left behind by an interrupted batch.
func (s *SQLiteStore) OpenPledgesOnExecutedTriggers(ctx context.Context) ([]*models.Pledge, error) {
	return s.queryPledges(ctx, `
		SELECT p.id, p.trigger_id, p.profile_id, p.amount, p.tip_amount, p.via_campaign, p.ref_code, p.status, p.created_at
		FROM pledges p
		JOIN triggers t ON t.id = p.trigger_id
		WHERE p.status = ? AND t.status = ?
		ORDER BY p.created_at, p.id`,
		string(models.PledgeOpen), string(models.TriggerExecuted))
}

// CancelPledge cancels an Open pledge. The status flip, the archive row, and
// the trigger aggregate decrement commit together. Cancelling an
// already-Cancelled pledge is a no-op; any other non-Open state is ErrTooLate,
// as is an Open pledge whose trigger has resolved.
func (s *SQLiteStore) CancelPledge(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPledge(tx.QueryRowContext(ctx,
		"SELECT "+pledgeColumns+" FROM pledges WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return fmt.Errorf("pledge %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get pledge: %w", err)
	}

	switch p.Status {
	case models.PledgeCancelled:
		return nil // idempotent
	case models.PledgeExecuted, models.PledgeVacated:
		return fmt.Errorf("pledge %s is %s: %w", id, p.Status, storage.ErrTooLate)
	case models.PledgeOpen:
		// proceed
	}

	var triggerStatus string
	if err := tx.QueryRowContext(ctx, "SELECT status FROM triggers WHERE id = ?", p.TriggerID).Scan(&triggerStatus); err != nil {
		return fmt.Errorf("failed to check trigger: %w", err)
	}
	if models.TriggerStatus(triggerStatus).Resolved() {
		return fmt.Errorf("trigger %s already resolved: %w", p.TriggerID, storage.ErrTooLate)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE pledges SET status = ? WHERE id = ? AND status = ?",
		string(models.PledgeCancelled), id, string(models.PledgeOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel pledge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pledge %s: %w", id, storage.ErrTooLate)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cancelled_pledges (id, pledge_id, trigger_id, profile_id, via_campaign, ref_code, amount, tip_amount, pledged_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), p.ID, p.TriggerID, p.ProfileID, p.ViaCampaign, p.RefCode,
		p.Amount, p.TipAmount, p.CreatedAt, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive cancelled pledge: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE triggers SET pledge_count = pledge_count - 1, total_pledged = total_pledged - ? WHERE id = ?",
		p.Amount, p.TriggerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trigger aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
