package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pledgefund/backend/internal/allocation"
	"github.com/pledgefund/backend/internal/gateway"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/storage"
	"github.com/pledgefund/backend/internal/storage/sqlite"
)

type testEnv struct {
	store   storage.Store
	gateway *gateway.Fake
	coord   *Coordinator
	res     *Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "pledgefund-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fake := gateway.NewFake()
	publisher := notify.NewStorePublisher(store)
	coord := NewCoordinator(store, fake, publisher,
		WithFees(allocation.FeeSchedule{Fixed: 30}),
		WithRetries(3, time.Millisecond),
	)
	return &testEnv{
		store:   store,
		gateway: fake,
		coord:   coord,
		res:     NewResolver(store, coord, publisher, 4),
	}
}

func (e *testEnv) seedTrigger(t *testing.T, ctx context.Context) *models.Trigger {
	t.Helper()
	trigger := &models.Trigger{Title: "Incumbent votes against the bill", Status: models.TriggerOpen}
	if err := e.store.CreateTrigger(ctx, trigger); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	return trigger
}

func (e *testEnv) seedRecipient(t *testing.T, ctx context.Context, name string, active bool) *models.Recipient {
	t.Helper()
	r := &models.Recipient{Name: name, Active: active}
	if err := e.store.CreateRecipient(ctx, r); err != nil {
		t.Fatalf("CreateRecipient failed: %v", err)
	}
	return r
}

func (e *testEnv) seedProfile(t *testing.T, ctx context.Context) *models.Profile {
	t.Helper()
	p := &models.Profile{
		NameFirst:    "Ada",
		NameLast:     "Lovelace",
		Address:      "12 Analytical Way",
		City:         "Springfield",
		State:        "IL",
		Zip:          "62701",
		Employer:     "Self",
		Occupation:   "Engineer",
		CardLastFour: "4242",
		CardHash:     "$2a$10$fakehashfortestingonlyfakehashfortesting",
		GatewayToken: "tok_test_4242",
	}
	if err := e.store.CreateProfile(ctx, p); err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	return p
}

func (e *testEnv) seedPledge(t *testing.T, ctx context.Context, triggerID, profileID string, amount int64) *models.Pledge {
	t.Helper()
	pledge := &models.Pledge{
		TriggerID: triggerID,
		ProfileID: profileID,
		Amount:    amount,
		Status:    models.PledgeOpen,
	}
	if err := e.store.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}
	return pledge
}

func proceedOutcome(recipients ...models.OutcomeRecipient) *models.Outcome {
	return &models.Outcome{Result: models.OutcomeProceed, Recipients: recipients}
}

func TestResolveProceed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	b := env.seedRecipient(t, ctx, "Challenger B", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 1000)

	summary, err := env.res.Resolve(ctx, trigger.ID, proceedOutcome(
		models.OutcomeRecipient{RecipientID: a.ID, Weight: 1},
		models.OutcomeRecipient{RecipientID: b.ID, Weight: 2},
	))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 0 || summary.WithProblem != 0 {
		t.Fatalf("Expected 1 succeeded, got %+v", summary)
	}

	exec, err := env.store.ExecutionByPledge(ctx, pledge.ID)
	if err != nil {
		t.Fatalf("ExecutionByPledge failed: %v", err)
	}
	if exec.Charged != 1000 {
		t.Errorf("Expected charged 1000, got %d", exec.Charged)
	}
	if exec.Fees != 30 {
		t.Errorf("Expected fees 30, got %d", exec.Fees)
	}
	if !exec.Succeeded() {
		t.Errorf("Expected a clean execution, got problem %q", exec.Problem)
	}
	if exec.TransactionID == "" {
		t.Error("Expected a gateway transaction reference")
	}

	contribs, err := env.store.ContributionsByExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ContributionsByExecution failed: %v", err)
	}
	got := make(map[string]int64)
	for _, c := range contribs {
		got[c.RecipientID] = c.Amount
	}
	// (1000 - 30) split 1:2 with the remainder unit going to the heavier
	// weight.
	if got[a.ID] != 323 {
		t.Errorf("Expected recipient A to get 323, got %d", got[a.ID])
	}
	if got[b.ID] != 647 {
		t.Errorf("Expected recipient B to get 647, got %d", got[b.ID])
	}

	updated, err := env.store.GetPledge(ctx, pledge.ID)
	if err != nil {
		t.Fatalf("GetPledge failed: %v", err)
	}
	if updated.Status != models.PledgeExecuted {
		t.Errorf("Expected pledge status executed, got %q", updated.Status)
	}

	notifications, err := env.store.NotificationsByProfile(ctx, profile.ID)
	if err != nil {
		t.Fatalf("NotificationsByProfile failed: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Kind != "pledge_executed" {
		t.Errorf("Expected one pledge_executed notification, got %v", notifications)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)
	outcome := proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1})

	first, err := env.coord.Execute(ctx, pledge, outcome)
	if err != nil {
		t.Fatalf("First Execute failed: %v", err)
	}
	second, err := env.coord.Execute(ctx, pledge, outcome)
	if err != nil {
		t.Fatalf("Second Execute failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected the same execution record, got %s and %s", first.ID, second.ID)
	}
	if env.gateway.ChargeCount() != 1 {
		t.Errorf("Expected exactly one charge, got %d", env.gateway.ChargeCount())
	}
}

func TestExecuteConcurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)
	outcome := proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1})

	var wg sync.WaitGroup
	execIDs := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec, err := env.coord.Execute(ctx, pledge, outcome)
			if err != nil {
				errs[i] = err
				return
			}
			execIDs[i] = exec.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
	}
	for i := 1; i < len(execIDs); i++ {
		if execIDs[i] != execIDs[0] {
			t.Errorf("Expected every caller to see execution %s, caller %d saw %s", execIDs[0], i, execIDs[i])
		}
	}
	if env.gateway.ChargeCount() != 1 {
		t.Errorf("Expected exactly one charge, got %d", env.gateway.ChargeCount())
	}
}

func TestResolveTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	outcome := proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1})

	if _, err := env.res.Resolve(ctx, trigger.ID, outcome); err != nil {
		t.Fatalf("First Resolve failed: %v", err)
	}
	_, err := env.res.Resolve(ctx, trigger.ID, outcome)
	if !errors.Is(err, storage.ErrAlreadyResolved) {
		t.Fatalf("Expected ErrAlreadyResolved, got %v", err)
	}
	_, err = env.res.Resolve(ctx, trigger.ID, &models.Outcome{Result: models.OutcomeVacate})
	if !errors.Is(err, storage.ErrAlreadyResolved) {
		t.Fatalf("Expected ErrAlreadyResolved for conflicting result, got %v", err)
	}
}

func TestResolveVacate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	profile := env.seedProfile(t, ctx)
	const n = 50
	for i := 0; i < n; i++ {
		env.seedPledge(t, ctx, trigger.ID, profile.ID, int64(100+i))
	}

	summary, err := env.res.Resolve(ctx, trigger.ID, &models.Outcome{
		Result:      models.OutcomeVacate,
		Description: "The vote was cancelled",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if summary.Vacated != n {
		t.Errorf("Expected %d vacated pledges, got %d", n, summary.Vacated)
	}
	if env.gateway.ChargeCount() != 0 {
		t.Errorf("Expected zero charges on vacate, got %d", env.gateway.ChargeCount())
	}

	notifications, err := env.store.NotificationsByProfile(ctx, profile.ID)
	if err != nil {
		t.Fatalf("NotificationsByProfile failed: %v", err)
	}
	if len(notifications) != n {
		t.Errorf("Expected %d vacate notifications, got %d", n, len(notifications))
	}

	resolved, err := env.store.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if resolved.Status != models.TriggerVacated {
		t.Errorf("Expected trigger vacated, got %q", resolved.Status)
	}

	open, err := env.store.OpenPledgesByTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("OpenPledgesByTrigger failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no pledge left open on a vacated trigger, got %d", len(open))
	}
}

func TestTransientRetryThenSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)

	env.gateway.Err = gateway.Timeout("gateway briefly unavailable")
	env.gateway.FailCount = 2

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !exec.Succeeded() {
		t.Fatalf("Expected success after retries, got problem %q: %s", exec.Problem, exec.ProblemDetail)
	}
	if calls := len(env.gateway.Calls()); calls != 3 {
		t.Errorf("Expected 3 charge attempts, got %d", calls)
	}
	if env.gateway.ChargeCount() != 1 {
		t.Errorf("Expected exactly one completed charge, got %d", env.gateway.ChargeCount())
	}
}

func TestTransientExhaustionRecordedAsTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)

	env.gateway.Err = gateway.Timeout("gateway down")

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Problem != models.GatewayTimeout {
		t.Errorf("Expected gateway_timeout, got %q", exec.Problem)
	}
	if exec.Charged != 0 {
		t.Errorf("Expected nothing charged, got %d", exec.Charged)
	}
	// The pledge still leaves Open so it is never re-picked for charging.
	updated, _ := env.store.GetPledge(ctx, pledge.ID)
	if updated.Status != models.PledgeExecuted {
		t.Errorf("Expected pledge executed with problem, got %q", updated.Status)
	}
}

func TestDeclineRecordedVerbatim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)

	env.gateway.Err = gateway.Declined("card expired")

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Problem != models.ChargeDeclined {
		t.Errorf("Expected charge_declined, got %q", exec.Problem)
	}
	if exec.ProblemDetail != "card expired" {
		t.Errorf("Expected verbatim detail, got %q", exec.ProblemDetail)
	}
	if calls := len(env.gateway.Calls()); calls != 1 {
		t.Errorf("Expected no retry on a permanent decline, got %d attempts", calls)
	}

	notifications, _ := env.store.NotificationsByProfile(ctx, profile.ID)
	if len(notifications) != 1 || notifications[0].Kind != "pledge_failed" {
		t.Fatalf("Expected one pledge_failed notification, got %v", notifications)
	}
}

func TestAmountBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	// Amount does not exceed the fixed fee, so no share is possible.
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 30)

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Problem != models.AmountBelowMinimum {
		t.Errorf("Expected amount_below_minimum, got %q", exec.Problem)
	}
	if len(env.gateway.Calls()) != 0 {
		t.Errorf("Expected no gateway call, got %d", len(env.gateway.Calls()))
	}
}

func TestRecipientUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	inactive := env.seedRecipient(t, ctx, "Withdrawn Candidate", false)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 500)

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: inactive.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if exec.Problem != models.RecipientUnavailable {
		t.Errorf("Expected recipient_unavailable, got %q", exec.Problem)
	}
	if len(env.gateway.Calls()) != 0 {
		t.Errorf("Expected no gateway call, got %d", len(env.gateway.Calls()))
	}
}

func TestInactiveRecipientDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	active := env.seedRecipient(t, ctx, "Challenger A", true)
	inactive := env.seedRecipient(t, ctx, "Withdrawn Candidate", false)
	profile := env.seedProfile(t, ctx)
	pledge := env.seedPledge(t, ctx, trigger.ID, profile.ID, 1030)

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(
		models.OutcomeRecipient{RecipientID: active.ID, Weight: 1},
		models.OutcomeRecipient{RecipientID: inactive.ID, Weight: 1},
	))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !exec.Succeeded() {
		t.Fatalf("Expected success, got problem %q", exec.Problem)
	}

	contribs, err := env.store.ContributionsByExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ContributionsByExecution failed: %v", err)
	}
	if len(contribs) != 1 || contribs[0].RecipientID != active.ID || contribs[0].Amount != 1000 {
		t.Errorf("Expected the full pool to the remaining recipient, got %v", contribs)
	}
}

func TestTipRoutedToCampaign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	campaign := env.seedRecipient(t, ctx, "Campaign Committee", true)
	profile := env.seedProfile(t, ctx)

	pledge := &models.Pledge{
		TriggerID:   trigger.ID,
		ProfileID:   profile.ID,
		Amount:      1130,
		TipAmount:   100,
		ViaCampaign: campaign.ID,
		Status:      models.PledgeOpen,
	}
	if err := env.store.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}

	exec, err := env.coord.Execute(ctx, pledge, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !exec.Succeeded() {
		t.Fatalf("Expected success, got problem %q", exec.Problem)
	}

	contribs, err := env.store.ContributionsByExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ContributionsByExecution failed: %v", err)
	}
	got := make(map[string]int64)
	var total int64
	for _, c := range contribs {
		got[c.RecipientID] = c.Amount
		total += c.Amount
	}
	if got[campaign.ID] != 100 {
		t.Errorf("Expected the campaign to get the tip of 100, got %d", got[campaign.ID])
	}
	if got[a.ID] != 1000 {
		t.Errorf("Expected the recipient to get 1000, got %d", got[a.ID])
	}
	if total+exec.Fees != exec.Charged {
		t.Errorf("Expected contributions %d + fees %d to equal charged %d", total, exec.Fees, exec.Charged)
	}
}

func TestExecuteBacklog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	var pledges []*models.Pledge
	for i := 0; i < 3; i++ {
		pledges = append(pledges, env.seedPledge(t, ctx, trigger.ID, profile.ID, 500))
	}

	// Resolve the trigger directly, as if the process died before fan-out.
	outcome := proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1})
	if err := env.store.ResolveTrigger(ctx, trigger.ID, models.TriggerExecuted, outcome); err != nil {
		t.Fatalf("ResolveTrigger failed: %v", err)
	}

	summary, err := env.res.ExecuteBacklog(ctx)
	if err != nil {
		t.Fatalf("ExecuteBacklog failed: %v", err)
	}
	if summary.Total != 3 || summary.Succeeded != 3 {
		t.Fatalf("Expected 3 backlog executions, got %+v", summary)
	}
	for _, pledge := range pledges {
		if _, err := env.store.ExecutionByPledge(ctx, pledge.ID); err != nil {
			t.Errorf("Expected an execution for pledge %s: %v", pledge.ID, err)
		}
	}

	// A second run finds nothing left to do and charges nothing new.
	again, err := env.res.ExecuteBacklog(ctx)
	if err != nil {
		t.Fatalf("Second ExecuteBacklog failed: %v", err)
	}
	if again.Total != 0 {
		t.Errorf("Expected an empty backlog, got %d", again.Total)
	}
	if env.gateway.ChargeCount() != 3 {
		t.Errorf("Expected 3 charges total, got %d", env.gateway.ChargeCount())
	}
}

func TestResolveInvalidOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	trigger := env.seedTrigger(t, ctx)

	cases := []struct {
		name    string
		outcome *models.Outcome
	}{
		{"nil outcome", nil},
		{"unknown result", &models.Outcome{Result: "maybe"}},
		{"proceed without recipients", &models.Outcome{Result: models.OutcomeProceed}},
		{"proceed with zero weights", proceedOutcome(models.OutcomeRecipient{RecipientID: "r", Weight: 0})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.res.Resolve(ctx, trigger.ID, tc.outcome)
			if !errors.Is(err, ErrInvalidOutcome) {
				t.Fatalf("Expected ErrInvalidOutcome, got %v", err)
			}
		})
	}

	// The trigger is untouched by rejected resolutions.
	got, err := env.store.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if got.Status != models.TriggerOpen {
		t.Errorf("Expected trigger still open, got %q", got.Status)
	}
}

func TestResolveProceedManyPledges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	trigger := env.seedTrigger(t, ctx)
	a := env.seedRecipient(t, ctx, "Challenger A", true)
	profile := env.seedProfile(t, ctx)
	const n = 25
	for i := 0; i < n; i++ {
		env.seedPledge(t, ctx, trigger.ID, profile.ID, int64(100*(i+1)))
	}

	summary, err := env.res.Resolve(ctx, trigger.ID, proceedOutcome(models.OutcomeRecipient{RecipientID: a.ID, Weight: 1}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if summary.Succeeded != n {
		t.Fatalf("Expected %d succeeded, got %+v", n, summary)
	}
	if env.gateway.ChargeCount() != n {
		t.Errorf("Expected %d charges, got %d", n, env.gateway.ChargeCount())
	}

	totals, err := env.store.TriggerContributionTotals(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("TriggerContributionTotals failed: %v", err)
	}
	var want int64
	for i := 0; i < n; i++ {
		want += int64(100*(i+1)) - 30
	}
	if totals.Count != n || totals.Total != want {
		t.Errorf("Expected %d contributions totalling %d, got %d/%d", n, want, totals.Count, totals.Total)
	}
}
