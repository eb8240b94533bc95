package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pledgefund/backend/internal/executor"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/storage"
)

// TriggerService manages triggers and routes resolutions through the
// executor, which owns the at-most-once semantics.
type TriggerService struct {
	store    storage.Store
	resolver *executor.Resolver
}

// NewTriggerService creates a TriggerService.
func NewTriggerService(store storage.Store, resolver *executor.Resolver) *TriggerService {
	return &TriggerService{store: store, resolver: resolver}
}

// CreateTrigger records a new open trigger.
func (s *TriggerService) CreateTrigger(ctx context.Context, title string) (*models.Trigger, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: trigger title is required", ErrValidation)
	}
	trigger := &models.Trigger{Title: title, Status: models.TriggerOpen}
	if err := s.store.CreateTrigger(ctx, trigger); err != nil {
		return nil, err
	}
	slog.Info("trigger created", "trigger_id", trigger.ID, "title", title)
	return trigger, nil
}

// TriggerView is a trigger with its executed contribution totals.
type TriggerView struct {
	Trigger            *models.Trigger
	ContributionCount  int64
	ContributionsTotal int64
}

// GetTrigger returns the trigger and, for executed triggers, the count and
// sum of contributions actually made under it, fees excluded.
func (s *TriggerService) GetTrigger(ctx context.Context, id string) (*TriggerView, error) {
	trigger, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &TriggerView{Trigger: trigger}
	if trigger.Status == models.TriggerExecuted {
		totals, err := s.store.TriggerContributionTotals(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load contribution totals for trigger %s: %w", id, err)
		}
		view.ContributionCount = totals.Count
		view.ContributionsTotal = totals.Total
	}
	return view, nil
}

// Resolve applies an outcome to an open trigger exactly once and drives the
// pledge consequences.
func (s *TriggerService) Resolve(ctx context.Context, id string, outcome *models.Outcome) (*executor.Summary, error) {
	return s.resolver.Resolve(ctx, id, outcome)
}
