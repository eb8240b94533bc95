// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/pledgefund/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyResolved is returned when resolving a trigger that has
	// already reached a terminal state. No pledge state changes.
	ErrAlreadyResolved = errors.New("trigger already resolved")

	// ErrTooLate is returned when cancelling a pledge whose trigger has
	// resolved, or whose own status already left Open by another path.
	ErrTooLate = errors.New("pledge can no longer be cancelled")

	// ErrDuplicateExecution is returned when an execution already exists
	// for the pledge. Callers treat the existing record as the result.
	ErrDuplicateExecution = errors.New("execution already exists for pledge")

	// ErrTriggerNotOpen is returned when creating a pledge against a
	// trigger that is not accepting pledges.
	ErrTriggerNotOpen = errors.New("trigger is not open")
)

// PayerSummary aggregates one profile's pledge activity: what was promised
// versus what actually moved.
type PayerSummary struct {
	ProfileID        string
	PledgeCount      int64
	TotalPledged     int64
	TotalCharged     int64
	TotalContributed int64
	TotalFees        int64
}

// ContributionTotals aggregates executed contributions under one trigger,
// excluding fees.
type ContributionTotals struct {
	Count int64
	Total int64
}

// Store defines the persistence operations for the pledge engine. The
// SQLite implementation lives in storage/sqlite; the interface keeps the
// services and the executor independent of the backend.
type Store interface {
	// Triggers.
	CreateTrigger(ctx context.Context, trigger *models.Trigger) error
	GetTrigger(ctx context.Context, id string) (*models.Trigger, error)
	// ResolveTrigger flips an Open trigger to Executed or Vacated in a
	// single atomic claim. Returns ErrAlreadyResolved if the trigger has
	// already resolved.
	ResolveTrigger(ctx context.Context, id string, status models.TriggerStatus, outcome *models.Outcome) error
	// VacateTrigger flips an Open trigger to Vacated and every Open pledge
	// under it to Vacated in one transaction, and returns the flipped
	// pledges. No execution records are created. Returns ErrAlreadyResolved
	// if the trigger has already resolved.
	VacateTrigger(ctx context.Context, id string, outcome *models.Outcome) ([]*models.Pledge, error)
	TriggerContributionTotals(ctx context.Context, triggerID string) (*ContributionTotals, error)

	// Pledges.
	// CreatePledge inserts the pledge and bumps the trigger's pledge_count
	// and total_pledged in the same transaction. Fails with
	// ErrTriggerNotOpen unless the trigger is accepting pledges.
	CreatePledge(ctx context.Context, pledge *models.Pledge) error
	GetPledge(ctx context.Context, id string) (*models.Pledge, error)
	OpenPledgesByTrigger(ctx context.Context, triggerID string) ([]*models.Pledge, error)
	// OpenPledgesOnExecutedTriggers lists pledges still Open whose trigger
	// already resolved to Executed: the batch-execution work queue.
	OpenPledgesOnExecutedTriggers(ctx context.Context) ([]*models.Pledge, error)
	// CancelPledge cancels an Open pledge, archives it, and decrements the
	// trigger aggregates, all in one transaction. Idempotent on an
	// already-Cancelled pledge; ErrTooLate otherwise when not Open.
	CancelPledge(ctx context.Context, id string) error

	// Executions. CreateExecution applies the execution, its contributions,
	// and the pledge status flip as one atomic unit. The unique constraint
	// on the pledge reference is the at-most-once claim: a second writer
	// gets ErrDuplicateExecution and must read the winner's record.
	CreateExecution(ctx context.Context, exec *models.Execution, contribs []*models.Contribution) error
	ExecutionByPledge(ctx context.Context, pledgeID string) (*models.Execution, error)
	ContributionsByExecution(ctx context.Context, executionID string) ([]*models.Contribution, error)

	// Recipients.
	CreateRecipient(ctx context.Context, recipient *models.Recipient) error
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)

	// Profiles are immutable once created; there is no update path.
	CreateProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ProfilesByCardLastFour(ctx context.Context, lastFour string) ([]*models.Profile, error)

	// Notifications.
	CreateNotification(ctx context.Context, n *models.Notification) error
	NotificationsByProfile(ctx context.Context, profileID string) ([]*models.Notification, error)
	// AcknowledgeNotification marks the notification read and returns the
	// profile's updated snapshot.
	AcknowledgeNotification(ctx context.Context, id string) ([]*models.Notification, error)

	// Derived views.
	PayerSummary(ctx context.Context, profileID string) (*PayerSummary, error)

	// Close releases any resources held by the store.
	Close() error
}
