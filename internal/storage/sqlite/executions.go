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

// CreateExecution persists one pledge execution: the execution row, its
// contribution rows, and the pledge's Open -> Executed flip commit as a
// single atomic unit, so a recorded charge can never be visible without
// its contributions.
//
// The UNIQUE constraint on executions.pledge_id doubles as the at-most-once
// claim: when two writers race, the loser gets ErrDuplicateExecution and
// must treat the winner's record as the result.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *models.Execution, contribs []*models.Contribution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt == 0 {
		exec.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, pledge_id, charged, fees, problem, problem_detail, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.PledgeID, exec.Charged, exec.Fees,
		string(exec.Problem), exec.ProblemDetail, exec.TransactionID, exec.CreatedAt,
	)
	if isUniqueViolation(err, "executions.pledge_id") {
		return fmt.Errorf("pledge %s: %w", exec.PledgeID, storage.ErrDuplicateExecution)
	}
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	for _, c := range contribs {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.ExecutionID = exec.ID
		_, err = tx.ExecContext(ctx,
			"INSERT INTO contributions (id, execution_id, recipient_id, amount) VALUES (?, ?, ?, ?)",
			c.ID, c.ExecutionID, c.RecipientID, c.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert contribution: %w", err)
		}
	}

	// The guard tolerates a concurrent writer having already flipped the
	// pledge: the terminal status is the same either way.
	_, err = tx.ExecContext(ctx,
		"UPDATE pledges SET status = ? WHERE id = ? AND status = ?",
		string(models.PledgeExecuted), exec.PledgeID, string(models.PledgeOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to update pledge status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecutionByPledge retrieves the execution owned by a pledge, if any.
func (s *SQLiteStore) ExecutionByPledge(ctx context.Context, pledgeID string) (*models.Execution, error) {
	exec := &models.Execution{}
	var problem string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pledge_id, charged, fees, problem, problem_detail, transaction_id, created_at
		FROM executions WHERE pledge_id = ?`,
		pledgeID,
	).Scan(&exec.ID, &exec.PledgeID, &exec.Charged, &exec.Fees,
		&problem, &exec.ProblemDetail, &exec.TransactionID, &exec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution for pledge %s: %w", pledgeID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	exec.Problem, err = models.ParseProblemCode(problem)
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", exec.ID, err)
	}
	return exec, nil
}

// ContributionsByExecution lists an execution's contributions in recipient order.
func (s *SQLiteStore) ContributionsByExecution(ctx context.Context, executionID string) ([]*models.Contribution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, execution_id, recipient_id, amount FROM contributions WHERE execution_id = ? ORDER BY recipient_id",
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var contribs []*models.Contribution
	for rows.Next() {
		c := &models.Contribution{}
		if err := rows.Scan(&c.ID, &c.ExecutionID, &c.RecipientID, &c.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		contribs = append(contribs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contributions: %w", err)
	}
	return contribs, nil
}

// CreateRecipient persists a recipient destination.
func (s *SQLiteStore) CreateRecipient(ctx context.Context, recipient *models.Recipient) error {
	if recipient.ID == "" {
		recipient.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO recipients (id, name, active) VALUES (?, ?, ?)",
		recipient.ID, recipient.Name, recipient.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recipient: %w", err)
	}
	return nil
}

// GetRecipient retrieves a recipient by ID.
func (s *SQLiteStore) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	r := &models.Recipient{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM recipients WHERE id = ?", id,
	).Scan(&r.ID, &r.Name, &r.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipient %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return r, nil
}

// PayerSummary aggregates pledged versus contributed totals for a profile.
func (s *SQLiteStore) PayerSummary(ctx context.Context, profileID string) (*storage.PayerSummary, error) {
	summary := &storage.PayerSummary{ProfileID: profileID}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(id), COALESCE(SUM(amount), 0) FROM pledges WHERE profile_id = ?",
		profileID,
	).Scan(&summary.PledgeCount, &summary.TotalPledged)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pledges: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(e.charged), 0), COALESCE(SUM(e.fees), 0)
		FROM executions e
		JOIN pledges p ON p.id = e.pledge_id
		WHERE p.profile_id = ?`,
		profileID,
	).Scan(&summary.TotalCharged, &summary.TotalFees)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate executions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(c.amount), 0)
		FROM contributions c
		JOIN executions e ON e.id = c.execution_id
		JOIN pledges p ON p.id = e.pledge_id
		WHERE p.profile_id = ?`,
		profileID,
	).Scan(&summary.TotalContributed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate contributions: %w", err)
	}

	return summary, nil
}
