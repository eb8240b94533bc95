package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

// CreateTrigger persists a new trigger in the Open state.
func (s *SQLiteStore) CreateTrigger(ctx context.Context, trigger *models.Trigger) error {
	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}
	if trigger.CreatedAt == 0 {
		trigger.CreatedAt = time.Now().Unix()
	}
	if trigger.Status == "" {
		trigger.Status = models.TriggerOpen
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO triggers (id, title, status, pledge_count, total_pledged, created_at) VALUES (?, ?, ?, 0, 0, ?)",
		trigger.ID, trigger.Title, string(trigger.Status), trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger by ID, including its resolution outcome.
func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	trigger := &models.Trigger{}
	var status string
	var outcome sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, status, outcome, pledge_count, total_pledged, created_at, resolved_at FROM triggers WHERE id = ?",
		id,
	).Scan(&trigger.ID, &trigger.Title, &status, &outcome,
		&trigger.PledgeCount, &trigger.TotalPledged, &trigger.CreatedAt, &trigger.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trigger %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}

	trigger.Status, err = models.ParseTriggerStatus(status)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", id, err)
	}
	if outcome.Valid && outcome.String != "" {
		var o models.Outcome
		if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
			return nil, fmt.Errorf("trigger %s has malformed outcome: %w", id, err)
		}
		trigger.Outcome = &o
	}
	return trigger, nil
}

// ResolveTrigger flips an Open trigger to its terminal status and records
// the outcome. The WHERE status = 'open' guard makes the flip atomic: of two
// concurrent resolvers exactly one wins and the other gets ErrAlreadyResolved.
func (s *SQLiteStore) ResolveTrigger(ctx context.Context, id string, status models.TriggerStatus, outcome *models.Outcome) error {
	if !status.Resolved() {
		return fmt.Errorf("cannot resolve trigger %s to non-terminal status %s", id, status)
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE triggers SET status = ?, outcome = ?, resolved_at = ? WHERE id = ? AND status = ?",
		string(status), string(payload), time.Now().Unix(), id, string(models.TriggerOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve trigger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the claim. Distinguish missing from already-resolved.
		if _, err := s.GetTrigger(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("trigger %s: %w", id, storage.ErrAlreadyResolved)
	}
	return nil
}

// VacateTrigger flips an Open trigger to Vacated and every Open pledge under
// it to Vacated in a single transaction, so the trigger can never land in a
// terminal state with open pledges stranded behind it. It returns the pledges
// that were flipped, which is also the notification list. A second call gets
// ErrAlreadyResolved, same as ResolveTrigger.
func (s *SQLiteStore) VacateTrigger(ctx context.Context, id string, outcome *models.Outcome) ([]*models.Pledge, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outcome: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE triggers SET status = ?, outcome = ?, resolved_at = ? WHERE id = ? AND status = ?",
		string(models.TriggerVacated), string(payload), time.Now().Unix(), id, string(models.TriggerOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to vacate trigger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetTrigger(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("trigger %s: %w", id, storage.ErrAlreadyResolved)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+pledgeColumns+" FROM pledges WHERE trigger_id = ? AND status = ? ORDER BY created_at, id",
		id, string(models.PledgeOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open pledges: %w", err)
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
	rows.Close()

	_, err = tx.ExecContext(ctx,
		"UPDATE pledges SET status = ? WHERE trigger_id = ? AND status = ?",
		string(models.PledgeVacated), id, string(models.PledgeOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to vacate pledges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, p := range pledges {
		p.Status = models.PledgeVacated
	}
	return pledges, nil
}

// TriggerContributionTotals sums executed contributions under a trigger,
// excluding fees. Derived on demand rather than cached.
func (s *SQLiteStore) TriggerContributionTotals(ctx context.Context, triggerID string) (*storage.ContributionTotals, error) {
	totals := &storage.ContributionTotals{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(c.id), COALESCE(SUM(c.amount), 0)
		FROM contributions c
		JOIN executions e ON e.id = c.execution_id
		JOIN pledges p ON p.id = e.pledge_id
		WHERE p.trigger_id = ?`,
		triggerID,
	).Scan(&totals.Count, &totals.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contributions: %w", err)
	}
	return totals, nil
}
