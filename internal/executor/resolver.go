package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pledgefund/backend/internal/metrics"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/storage"
)

const defaultParallelism = 8

// ErrInvalidOutcome indicates a resolution payload that cannot be applied:
// a proceed outcome needs at least one recipient with a positive weight.
var ErrInvalidOutcome = errors.New("invalid resolution outcome")

// Summary reports what a trigger resolution did to its open pledges.
type Summary struct {
	TriggerID string
	Result    models.OutcomeResult

	// Proceed counters.
	Total       int
	Succeeded   int
	WithProblem int
	Failed      int

	// Vacate counter.
	Vacated int64
}

// Resolver applies a trigger's resolution exactly once and drives the
// consequences: a proceed outcome fans pledge executions out across a
// bounded worker group; a vacate outcome releases every open pledge
// without a charge.
type Resolver struct {
	store       storage.Store
	coordinator *Coordinator
	publisher   notify.Publisher
	parallelism int
}

// NewResolver creates a Resolver. parallelism bounds how many pledges are
// executed concurrently; values below one fall back to the default.
func NewResolver(store storage.Store, coordinator *Coordinator, publisher notify.Publisher, parallelism int) *Resolver {
	if parallelism < 1 {
		parallelism = defaultParallelism
	}
	return &Resolver{
		store:       store,
		coordinator: coordinator,
		publisher:   publisher,
		parallelism: parallelism,
	}
}

// Resolve flips the trigger out of Open and applies the outcome to its
// pledges. The status flip is a single atomic claim: a second resolution
// attempt gets storage.ErrAlreadyResolved and changes nothing. Per-pledge
// failures under a proceed outcome are isolated so one bad pledge never
// blocks the rest; they show up in the summary counters.
func (r *Resolver) Resolve(ctx context.Context, triggerID string, outcome *models.Outcome) (*Summary, error) {
	if err := validateOutcome(outcome); err != nil {
		return nil, err
	}

	summary := &Summary{TriggerID: triggerID, Result: outcome.Result}

	// Vacate is a single store transaction: the trigger flip and the bulk
	// pledge flip commit together, so a crash can never strand open pledges
	// on a vacated trigger. The returned pledges are the notification list.
	if outcome.Result == models.OutcomeVacate {
		vacated, err := r.store.VacateTrigger(ctx, triggerID, outcome)
		if err != nil {
			return nil, err
		}
		metrics.TriggersResolvedTotal.WithLabelValues(string(outcome.Result)).Inc()
		summary.Vacated = int64(len(vacated))
		metrics.PledgesVacatedTotal.Add(float64(len(vacated)))
		for _, pledge := range vacated {
			r.publisher.PledgeVacated(ctx, pledge)
		}
		slog.Info("trigger vacated", "trigger_id", triggerID, "pledges_vacated", len(vacated))
		return summary, nil
	}

	if err := r.store.ResolveTrigger(ctx, triggerID, models.TriggerExecuted, outcome); err != nil {
		return nil, err
	}
	metrics.TriggersResolvedTotal.WithLabelValues(string(outcome.Result)).Inc()

	pledges, err := r.store.OpenPledgesByTrigger(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open pledges for trigger %s: %w", triggerID, err)
	}
	r.executeAll(ctx, pledges, outcome, summary)
	slog.Info("trigger executed",
		"trigger_id", triggerID, "pledges", summary.Total,
		"succeeded", summary.Succeeded, "with_problem", summary.WithProblem, "failed", summary.Failed)
	return summary, nil
}

// ExecuteBacklog executes every pledge still open on an already-executed
// trigger: the recovery path after a crash mid-resolution, and the batch
// job's entry point.
func (r *Resolver) ExecuteBacklog(ctx context.Context) (*Summary, error) {
	pledges, err := r.store.OpenPledgesOnExecutedTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backlog pledges: %w", err)
	}

	// One trigger lookup per distinct trigger, not per pledge.
	outcomes := make(map[string]*models.Outcome)
	for _, pledge := range pledges {
		if _, ok := outcomes[pledge.TriggerID]; ok {
			continue
		}
		trigger, err := r.store.GetTrigger(ctx, pledge.TriggerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trigger %s: %w", pledge.TriggerID, err)
		}
		outcomes[pledge.TriggerID] = trigger.Outcome
	}

	summary := &Summary{Result: models.OutcomeProceed}
	byTrigger := make(map[string][]*models.Pledge)
	for _, pledge := range pledges {
		byTrigger[pledge.TriggerID] = append(byTrigger[pledge.TriggerID], pledge)
	}
	for triggerID, group := range byTrigger {
		r.executeAll(ctx, group, outcomes[triggerID], summary)
	}
	return summary, nil
}

func (r *Resolver) executeAll(ctx context.Context, pledges []*models.Pledge, outcome *models.Outcome, summary *Summary) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	summary.Total += len(pledges)
	for _, pledge := range pledges {
		pledge := pledge
		g.Go(func() error {
			exec, err := r.coordinator.Execute(ctx, pledge, outcome)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				slog.Error("pledge execution failed", "pledge_id", pledge.ID, "error", err)
			case exec.Succeeded():
				summary.Succeeded++
			default:
				summary.WithProblem++
			}
			// Per-pledge isolation: never cancel the group.
			return nil
		})
	}
	_ = g.Wait()
}

func validateOutcome(outcome *models.Outcome) error {
	if outcome == nil {
		return ErrInvalidOutcome
	}
	switch outcome.Result {
	case models.OutcomeVacate:
		return nil
	case models.OutcomeProceed:
		for _, or := range outcome.Recipients {
			if or.Weight > 0 {
				return nil
			}
		}
		return fmt.Errorf("%w: proceed outcome needs at least one recipient with positive weight", ErrInvalidOutcome)
	}
	return fmt.Errorf("%w: unknown result %q", ErrInvalidOutcome, outcome.Result)
}
