package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pledgefund/backend/internal/allocation"
	"github.com/pledgefund/backend/internal/executor"
	"github.com/pledgefund/backend/internal/gateway"
	"github.com/pledgefund/backend/internal/models"
	"github.com/pledgefund/backend/internal/notify"
	"github.com/pledgefund/backend/internal/storage"
	"github.com/pledgefund/backend/internal/storage/sqlite"
)

var testFees = allocation.FeeSchedule{Fixed: 20, Bps: 900}

type services struct {
	store    storage.Store
	gateway  *gateway.Fake
	pledges  *PledgeService
	triggers *TriggerService
	profiles *ProfileService
}

func newServices(t *testing.T) *services {
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
	coord := executor.NewCoordinator(store, fake, publisher,
		executor.WithFees(testFees),
		executor.WithRetries(2, time.Millisecond),
	)
	resolver := executor.NewResolver(store, coord, publisher, 4)

	return &services{
		store:    store,
		gateway:  fake,
		pledges:  NewPledgeService(store, testFees, 500000),
		triggers: NewTriggerService(store, resolver),
		profiles: NewProfileService(store),
	}
}

func validProfileInput() *ProfileInput {
	return &ProfileInput{
		NameFirst:    "Ada",
		NameLast:     "Lovelace",
		Address:      "12 Analytical Way",
		City:         "Springfield",
		State:        "IL",
		Zip:          "62701",
		Employer:     "Self",
		Occupation:   "Engineer",
		CardNumber:   "4242 4242 4242 4242",
		GatewayToken: "tok_test_4242",
	}
}

func (s *services) seed(t *testing.T, ctx context.Context) (*models.Trigger, *models.Profile) {
	t.Helper()
	trigger, err := s.triggers.CreateTrigger(ctx, "Incumbent votes against the bill")
	if err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	profile, err := s.profiles.CreateProfile(ctx, validProfileInput())
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	return trigger, profile
}

func TestCreatePledgeValidation(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	min := svc.pledges.MinPledge()
	tests := []struct {
		name    string
		pledge  *models.Pledge
		wantErr error
	}{
		{
			name:   "valid pledge",
			pledge: &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000},
		},
		{
			name:    "below minimum",
			pledge:  &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: min - 1},
			wantErr: ErrValidation,
		},
		{
			name:    "above maximum",
			pledge:  &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 500001},
			wantErr: ErrValidation,
		},
		{
			name:    "missing profile",
			pledge:  &models.Pledge{TriggerID: trigger.ID, Amount: 1000},
			wantErr: ErrValidation,
		},
		{
			name:    "tip without campaign",
			pledge:  &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000, TipAmount: 100},
			wantErr: ErrValidation,
		},
		{
			name:    "tip swallows pledge",
			pledge:  &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000, TipAmount: 1000, ViaCampaign: "c"},
			wantErr: ErrValidation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.pledges.CreatePledge(ctx, tc.pledge)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("CreatePledge failed: %v", err)
				}
				if tc.pledge.ID == "" || tc.pledge.Status != models.PledgeOpen {
					t.Errorf("Expected an open pledge with an ID, got %+v", tc.pledge)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreatePledgeOnResolvedTrigger(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	if _, err := svc.triggers.Resolve(ctx, trigger.ID, &models.Outcome{Result: models.OutcomeVacate}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	err := svc.pledges.CreatePledge(ctx, &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000})
	if !errors.Is(err, storage.ErrTriggerNotOpen) {
		t.Fatalf("Expected ErrTriggerNotOpen, got %v", err)
	}
}

func TestCancelPledge(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	pledge := &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000}
	if err := svc.pledges.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}

	if err := svc.pledges.CancelPledge(ctx, pledge.ID); err != nil {
		t.Fatalf("CancelPledge failed: %v", err)
	}
	// Idempotent on repeat.
	if err := svc.pledges.CancelPledge(ctx, pledge.ID); err != nil {
		t.Fatalf("Second CancelPledge failed: %v", err)
	}

	got, err := svc.store.GetPledge(ctx, pledge.ID)
	if err != nil {
		t.Fatalf("GetPledge failed: %v", err)
	}
	if got.Status != models.PledgeCancelled {
		t.Errorf("Expected cancelled, got %q", got.Status)
	}

	// Aggregates are released back to the trigger.
	view, err := svc.triggers.GetTrigger(ctx, trigger.ID)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if view.Trigger.PledgeCount != 0 || view.Trigger.TotalPledged != 0 {
		t.Errorf("Expected aggregates released, got count=%d total=%d",
			view.Trigger.PledgeCount, view.Trigger.TotalPledged)
	}
}

func TestCancelPledgeTooLate(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	recipient := &models.Recipient{Name: "Challenger A", Active: true}
	if err := svc.store.CreateRecipient(ctx, recipient); err != nil {
		t.Fatalf("CreateRecipient failed: %v", err)
	}
	pledge := &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000}
	if err := svc.pledges.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}

	outcome := &models.Outcome{
		Result:     models.OutcomeProceed,
		Recipients: []models.OutcomeRecipient{{RecipientID: recipient.ID, Weight: 1}},
	}
	if _, err := svc.triggers.Resolve(ctx, trigger.ID, outcome); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	err := svc.pledges.CancelPledge(ctx, pledge.ID)
	if !errors.Is(err, storage.ErrTooLate) {
		t.Fatalf("Expected ErrTooLate, got %v", err)
	}
}

func TestGetPledgeView(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	recipient := &models.Recipient{Name: "Challenger A", Active: true}
	if err := svc.store.CreateRecipient(ctx, recipient); err != nil {
		t.Fatalf("CreateRecipient failed: %v", err)
	}
	pledge := &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000}
	if err := svc.pledges.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}

	view, err := svc.pledges.GetPledge(ctx, pledge.ID)
	if err != nil {
		t.Fatalf("GetPledge failed: %v", err)
	}
	if view.Execution != nil {
		t.Errorf("Expected no execution before resolution, got %+v", view.Execution)
	}

	svc.gateway.Err = gateway.Declined("card expired")
	outcome := &models.Outcome{
		Result:     models.OutcomeProceed,
		Recipients: []models.OutcomeRecipient{{RecipientID: recipient.ID, Weight: 1}},
	}
	if _, err := svc.triggers.Resolve(ctx, trigger.ID, outcome); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	view, err = svc.pledges.GetPledge(ctx, pledge.ID)
	if err != nil {
		t.Fatalf("GetPledge failed: %v", err)
	}
	if view.Execution == nil {
		t.Fatal("Expected an execution record")
	}
	if view.Execution.Problem != models.ChargeDeclined || view.Execution.ProblemDetail != "card expired" {
		t.Errorf("Expected the decline verbatim, got %q/%q", view.Execution.Problem, view.Execution.ProblemDetail)
	}
	if len(view.Contributions) != 0 {
		t.Errorf("Expected no contributions for a failed charge, got %v", view.Contributions)
	}
}

func TestSuggestedAmounts(t *testing.T) {
	svc := newServices(t)

	amounts := svc.pledges.SuggestedAmounts()
	if len(amounts) == 0 {
		t.Fatal("Expected suggested amounts")
	}
	min := svc.pledges.MinPledge()
	for _, amount := range amounts {
		if amount < min {
			t.Errorf("Suggested amount %d is below the minimum %d", amount, min)
		}
	}
}

func TestProfileFindByCard(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	created, err := svc.profiles.CreateProfile(ctx, validProfileInput())
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	if created.CardLastFour != "4242" {
		t.Errorf("Expected last four 4242, got %q", created.CardLastFour)
	}

	// Dashes and spaces do not affect the match.
	found, err := svc.profiles.FindByCard(ctx, "4242-4242-4242-4242")
	if err != nil {
		t.Fatalf("FindByCard failed: %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("Expected profile %s, got %s", created.ID, found.ID)
	}

	_, err = svc.profiles.FindByCard(ctx, "5555 5555 5555 4242")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for a non-matching card, got %v", err)
	}
}

func TestProfileValidation(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	input := validProfileInput()
	input.Employer = ""
	input.Occupation = ""
	_, err := svc.profiles.CreateProfile(ctx, input)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestNotificationsAcknowledge(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	pledge := &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: 1000}
	if err := svc.pledges.CreatePledge(ctx, pledge); err != nil {
		t.Fatalf("CreatePledge failed: %v", err)
	}
	if _, err := svc.triggers.Resolve(ctx, trigger.ID, &models.Outcome{Result: models.OutcomeVacate}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	notifications, err := svc.profiles.Notifications(ctx, profile.ID)
	if err != nil {
		t.Fatalf("Notifications failed: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Acknowledged() {
		t.Fatalf("Expected one unread notification, got %v", notifications)
	}

	updated, err := svc.profiles.AcknowledgeNotification(ctx, notifications[0].ID)
	if err != nil {
		t.Fatalf("AcknowledgeNotification failed: %v", err)
	}
	if len(updated) != 1 || !updated[0].Acknowledged() {
		t.Fatalf("Expected the notification acknowledged, got %v", updated)
	}

	// Acknowledging twice is harmless.
	if _, err := svc.profiles.AcknowledgeNotification(ctx, notifications[0].ID); err != nil {
		t.Fatalf("Second AcknowledgeNotification failed: %v", err)
	}
}

func TestPayerSummary(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	trigger, profile := svc.seed(t, ctx)

	recipient := &models.Recipient{Name: "Challenger A", Active: true}
	if err := svc.store.CreateRecipient(ctx, recipient); err != nil {
		t.Fatalf("CreateRecipient failed: %v", err)
	}
	for _, amount := range []int64{1000, 2000} {
		pledge := &models.Pledge{TriggerID: trigger.ID, ProfileID: profile.ID, Amount: amount}
		if err := svc.pledges.CreatePledge(ctx, pledge); err != nil {
			t.Fatalf("CreatePledge failed: %v", err)
		}
	}

	outcome := &models.Outcome{
		Result:     models.OutcomeProceed,
		Recipients: []models.OutcomeRecipient{{RecipientID: recipient.ID, Weight: 1}},
	}
	if _, err := svc.triggers.Resolve(ctx, trigger.ID, outcome); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	summary, err := svc.pledges.PayerSummary(ctx, profile.ID)
	if err != nil {
		t.Fatalf("PayerSummary failed: %v", err)
	}
	if summary.PledgeCount != 2 || summary.TotalPledged != 3000 {
		t.Errorf("Expected 2 pledges totalling 3000, got %d/%d", summary.PledgeCount, summary.TotalPledged)
	}
	if summary.TotalCharged != 3000 {
		t.Errorf("Expected 3000 charged, got %d", summary.TotalCharged)
	}
	wantFees := testFees.Fee(1000) + testFees.Fee(2000)
	if summary.TotalFees != wantFees {
		t.Errorf("Expected fees %d, got %d", wantFees, summary.TotalFees)
	}
	if summary.TotalContributed != summary.TotalCharged-wantFees {
		t.Errorf("Expected contributions %d, got %d", summary.TotalCharged-wantFees, summary.TotalContributed)
	}
}
