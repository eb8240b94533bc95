// Package executor turns resolved triggers into charges and contributions.
//
// The Coordinator executes a single pledge at most once; the Resolver claims
// a trigger's resolution and fans coordinator work out across its open
// pledges. Both lean on the store for atomicity: the unique execution row
// per pledge is the claim that makes concurrent execution safe.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pledgefund/backend/internal/allocation"
	"github.com/pledgefund/backend/internal/gateway"
	"github.com/pledgefund/backend/internal/metrics"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/storage"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// ErrOutcomeNotExecutable indicates the trigger outcome cannot drive a
// charge (wrong result, or no weighted recipients).
var ErrOutcomeNotExecutable = errors.New("outcome is not executable")

// Coordinator executes individual pledges. Execute is idempotent: however
// many times it runs for one pledge, at most one charge happens and exactly
// one execution record exists afterwards.
type Coordinator struct {
	store     storage.Store
	charger   gateway.Charger
	publisher notify.Publisher
	fees      allocation.FeeSchedule

	maxRetries    uint64
	retryInterval time.Duration
}

// CoordinatorOption adjusts a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithFees sets the fee schedule applied to every charge.
func WithFees(fees allocation.FeeSchedule) CoordinatorOption {
	return func(c *Coordinator) { c.fees = fees }
}

// WithRetries bounds transient gateway retries and sets the initial backoff
// interval.
func WithRetries(max uint64, interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.maxRetries = max
		if interval > 0 {
			c.retryInterval = interval
		}
	}
}

// NewCoordinator creates a Coordinator with bounded exponential backoff for
// transient gateway failures.
func NewCoordinator(store storage.Store, charger gateway.Charger, publisher notify.Publisher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:         store,
		charger:       charger,
		publisher:     publisher,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute realizes one pledge under a proceed outcome. It returns the
// pledge's execution record, whether created by this call or found already
// in place. A failed charge still produces an execution record: the pledge
// leaves Open in every case, carrying its problem code rather than silently
// staying charge-eligible.
func (c *Coordinator) Execute(ctx context.Context, pledge *models.Pledge, outcome *models.Outcome) (*models.Execution, error) {
	if existing, err := c.store.ExecutionByPledge(ctx, pledge.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing execution: %w", err)
	}

	if outcome == nil || outcome.Result != models.OutcomeProceed {
		return nil, ErrOutcomeNotExecutable
	}

	dests, unavailable, err := c.destinations(ctx, pledge, outcome)
	if err != nil {
		return nil, err
	}
	if len(dests) == 0 {
		return c.record(ctx, pledge, &models.Execution{
			PledgeID:      pledge.ID,
			Problem:       models.RecipientUnavailable,
			ProblemDetail: unavailable,
		}, nil)
	}

	fee := c.fees.Fee(pledge.Amount)
	if _, err := allocation.Split(pledge.Amount, fee, dests, allocation.DistributeRemainder); err != nil {
		if errors.Is(err, allocation.ErrInvalidInput) {
			return c.record(ctx, pledge, &models.Execution{
				PledgeID:      pledge.ID,
				Problem:       models.AmountBelowMinimum,
				ProblemDetail: "pledge amount does not cover fees and a minimal share per recipient",
			}, nil)
		}
		return nil, fmt.Errorf("failed to validate allocation for pledge %s: %w", pledge.ID, err)
	}

	profile, err := c.store.GetProfile(ctx, pledge.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for pledge %s: %w", pledge.ID, err)
	}

	res, err := c.charge(ctx, pledge, profile)
	if err != nil {
		problem, detail := gateway.Classify(err)
		return c.record(ctx, pledge, &models.Execution{
			PledgeID:      pledge.ID,
			Problem:       problem,
			ProblemDetail: detail,
		}, nil)
	}

	// Split what was actually captured, not what was asked for. The fee is
	// recomputed from the schedule so sum(contributions) + fees == charged.
	fee = c.fees.Fee(res.Charged)
	if res.Fees != 0 && res.Fees != fee {
		slog.Warn("gateway fee differs from schedule",
			"pledge_id", pledge.ID, "gateway_fees", res.Fees, "schedule_fees", fee)
	}
	split, err := allocation.Split(res.Charged, fee, dests, allocation.DistributeRemainder)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate charged amount for pledge %s: %w", pledge.ID, err)
	}

	exec := &models.Execution{
		PledgeID:      pledge.ID,
		Charged:       res.Charged,
		Fees:          split.Fee,
		Problem:       models.NoProblem,
		TransactionID: res.TransactionID,
	}
	contribs := make([]*models.Contribution, 0, len(split.Shares))
	for _, share := range split.Shares {
		contribs = append(contribs, &models.Contribution{
			RecipientID: share.ID,
			Amount:      share.Amount,
		})
	}
	return c.record(ctx, pledge, exec, contribs)
}

// destinations builds the allocation targets for a pledge: the outcome's
// active recipients by weight, plus the referring campaign's tip off the
// top. A tip without a referring campaign has no destination and rejoins
// the weighted pool. Inactive recipients are dropped; the returned detail
// describes them for the case where nobody is left.
func (c *Coordinator) destinations(ctx context.Context, pledge *models.Pledge, outcome *models.Outcome) ([]allocation.Destination, string, error) {
	dests := make([]allocation.Destination, 0, len(outcome.Recipients)+1)
	detail := "no active recipient remains for this outcome"
	for _, or := range outcome.Recipients {
		if or.Weight <= 0 {
			continue
		}
		recipient, err := c.store.GetRecipient(ctx, or.RecipientID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, "", fmt.Errorf("failed to load recipient %s: %w", or.RecipientID, err)
		}
		if !recipient.Active {
			continue
		}
		dests = append(dests, allocation.Destination{ID: recipient.ID, Weight: or.Weight})
	}
	if len(dests) == 0 {
		return nil, detail, nil
	}
	if pledge.TipAmount > 0 && pledge.ViaCampaign != "" {
		dests = append(dests, allocation.Destination{ID: pledge.ViaCampaign, Fixed: pledge.TipAmount})
	}
	return dests, "", nil
}

// charge calls the gateway with a pledge-derived idempotency token and
// bounded exponential backoff on transient failures. The token is stable
// across process restarts, so a retry after a lost response dedupes at the
// gateway instead of charging twice.
func (c *Coordinator) charge(ctx context.Context, pledge *models.Pledge, profile *models.Profile) (*gateway.ChargeResult, error) {
	req := gateway.ChargeRequest{
		ProfileToken:     profile.GatewayToken,
		Amount:           pledge.Amount,
		IdempotencyToken: "pledge:" + pledge.ID,
	}

	start := time.Now()
	defer func() {
		metrics.ChargeDuration.Observe(time.Since(start).Seconds())
	}()

	var res *gateway.ChargeResult
	op := func() error {
		r, err := c.charger.Charge(ctx, req)
		if err != nil {
			if gateway.IsTransient(err) {
				metrics.GatewayRetriesTotal.Inc()
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return res, nil
}

// record persists the execution atomically with its contributions and the
// pledge status flip. Losing the insert race is not an error: the winner's
// record is the result.
func (c *Coordinator) record(ctx context.Context, pledge *models.Pledge, exec *models.Execution, contribs []*models.Contribution) (*models.Execution, error) {
	err := c.store.CreateExecution(ctx, exec, contribs)
	if errors.Is(err, storage.ErrDuplicateExecution) {
		return c.store.ExecutionByPledge(ctx, pledge.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record execution for pledge %s: %w", pledge.ID, err)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(exec.Problem)).Inc()
	c.publisher.PledgeExecuted(ctx, pledge, exec)
	slog.Info("pledge executed",
		"pledge_id", pledge.ID, "execution_id", exec.ID,
		"charged", exec.Charged, "fees", exec.Fees, "problem", string(exec.Problem))
	return exec, nil
}
