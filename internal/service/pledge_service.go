// Package service holds the application services between the HTTP handlers
// and the store: input validation, lifecycle rules, and derived views.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pledgefund/backend/internal/allocation"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

// ErrValidation marks caller input the service refused. Handlers map it to
// a 400 instead of a 500.
var ErrValidation = errors.New("validation failed")

// suggestedLadder is the base amounts, in minor units, offered to a
// supporter; entries below the configured minimum are dropped.
var suggestedLadder = []int64{500, 1000, 2500, 5000, 10000, 25000}

// PledgeService covers the supporter-facing pledge lifecycle: create,
// inspect, cancel, and summarize.
type PledgeService struct {
	store     storage.Store
	fees      allocation.FeeSchedule
	maxPledge int64
}

// NewPledgeService creates a PledgeService. maxPledge of zero disables the
// upper bound.
func NewPledgeService(store storage.Store, fees allocation.FeeSchedule, maxPledge int64) *PledgeService {
	return &PledgeService{store: store, fees: fees, maxPledge: maxPledge}
}

// MinPledge returns the smallest acceptable pledge amount: enough to cover
// fees and still leave at least one whole minor unit to contribute.
func (s *PledgeService) MinPledge() int64 {
	return s.fees.MinPledge(1)
}

// SuggestedAmounts returns the pledge amounts offered to a supporter,
// bounded by the configured minimum and maximum.
func (s *PledgeService) SuggestedAmounts() []int64 {
	min := s.MinPledge()
	out := make([]int64, 0, len(suggestedLadder))
	for _, amount := range suggestedLadder {
		if amount < min {
			continue
		}
		if s.maxPledge > 0 && amount > s.maxPledge {
			continue
		}
		out = append(out, amount)
	}
	return out
}

// CreatePledge validates and records a new pledge against an open trigger.
func (s *PledgeService) CreatePledge(ctx context.Context, pledge *models.Pledge) error {
	if pledge.TriggerID == "" || pledge.ProfileID == "" {
		return fmt.Errorf("%w: trigger and profile are required", ErrValidation)
	}
	if min := s.MinPledge(); pledge.Amount < min {
		return fmt.Errorf("%w: amount %d is below the minimum pledge of %d", ErrValidation, pledge.Amount, min)
	}
	if s.maxPledge > 0 && pledge.Amount > s.maxPledge {
		return fmt.Errorf("%w: amount %d exceeds the maximum pledge of %d", ErrValidation, pledge.Amount, s.maxPledge)
	}
	if pledge.TipAmount < 0 {
		return fmt.Errorf("%w: tip must not be negative", ErrValidation)
	}
	if pledge.TipAmount > 0 && pledge.ViaCampaign == "" {
		return fmt.Errorf("%w: a tip requires a referring campaign", ErrValidation)
	}
	if pledge.TipAmount >= pledge.Amount {
		return fmt.Errorf("%w: tip must leave room for a contribution", ErrValidation)
	}

	pledge.Status = models.PledgeOpen
	if err := s.store.CreatePledge(ctx, pledge); err != nil {
		return err
	}

	slog.Info("pledge created",
		"pledge_id", pledge.ID, "trigger_id", pledge.TriggerID,
		"amount", pledge.Amount, "tip", pledge.TipAmount)
	return nil
}

// PledgeView is a pledge with its execution consequences, if any. A failed
// charge surfaces its recorded problem detail verbatim.
type PledgeView struct {
	Pledge        *models.Pledge
	Execution     *models.Execution
	Contributions []*models.Contribution
}

// GetPledge returns the pledge and, once executed, its execution record and
// contributions.
func (s *PledgeService) GetPledge(ctx context.Context, id string) (*PledgeView, error) {
	pledge, err := s.store.GetPledge(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &PledgeView{Pledge: pledge}

	exec, err := s.store.ExecutionByPledge(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution for pledge %s: %w", id, err)
	}
	view.Execution = exec

	if exec.Succeeded() {
		contribs, err := s.store.ContributionsByExecution(ctx, exec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load contributions for execution %s: %w", exec.ID, err)
		}
		view.Contributions = contribs
	}
	return view, nil
}

// CancelPledge cancels an open pledge. Cancelling twice is a no-op;
// cancelling after the trigger resolved fails with storage.ErrTooLate.
func (s *PledgeService) CancelPledge(ctx context.Context, id string) error {
	if err := s.store.CancelPledge(ctx, id); err != nil {
		return err
	}
	slog.Info("pledge cancelled", "pledge_id", id)
	return nil
}

// PayerSummary aggregates one profile's pledged, charged, and contributed
// amounts.
func (s *PledgeService) PayerSummary(ctx context.Context, profileID string) (*storage.PayerSummary, error) {
	if _, err := s.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return s.store.PayerSummary(ctx, profileID)
}
