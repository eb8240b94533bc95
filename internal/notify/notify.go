// Package notify publishes supporter-visible records of pledge state
// transitions. Notifications are explicit rows with read and acknowledge
// operations, not a session-bound list.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

// Publisher is informed of pledge state transitions. It is a collaborator of
// the execution core, not part of it: failures are logged, never allowed to
// affect the financial records.
type Publisher interface {
	PledgeExecuted(ctx context.Context, pledge *models.Pledge, exec *models.Execution)
	PledgeVacated(ctx context.Context, pledge *models.Pledge)
}

// StorePublisher persists notifications through the store.
type StorePublisher struct {
	store storage.Store
}

// NewStorePublisher creates a store-backed publisher.
func NewStorePublisher(store storage.Store) *StorePublisher {
	return &StorePublisher{store: store}
}

// PledgeExecuted records the outcome of a pledge execution. A failed charge
// carries the recorded problem detail verbatim so the supporter never sees
// it rendered as a plain success.
func (p *StorePublisher) PledgeExecuted(ctx context.Context, pledge *models.Pledge, exec *models.Execution) {
	n := &models.Notification{
		ProfileID: pledge.ProfileID,
		PledgeID:  pledge.ID,
	}
	if exec.Succeeded() {
		n.Kind = "pledge_executed"
		n.Text = fmt.Sprintf("Your contribution of %d was made.", exec.Charged)
	} else {
		n.Kind = "pledge_failed"
		n.Text = fmt.Sprintf("Your contribution could not be made: %s", exec.ProblemDetail)
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		slog.Error("failed to record execution notification", "pledge_id", pledge.ID, "error", err)
	}
}

// PledgeVacated records that the pledge was released without a charge.
func (p *StorePublisher) PledgeVacated(ctx context.Context, pledge *models.Pledge) {
	n := &models.Notification{
		ProfileID: pledge.ProfileID,
		PledgeID:  pledge.ID,
		Kind:      "pledge_vacated",
		Text:      "The event your pledge was waiting on will not occur. You will not be charged.",
	}
	if err := p.store.CreateNotification(ctx, n); err != nil {
		slog.Error("failed to record vacate notification", "pledge_id", pledge.ID, "error", err)
	}
}

// NopPublisher discards all notifications. Used where notification delivery
// is somebody else's job.
type NopPublisher struct{}

func (NopPublisher) PledgeExecuted(context.Context, *models.Pledge, *models.Execution) {}
func (NopPublisher) PledgeVacated(context.Context, *models.Pledge)                     {}
