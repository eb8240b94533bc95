package models

import "fmt"

// TriggerStatus is the lifecycle state of a Trigger. A trigger is created
// Open and transitions exactly once to Executed or Vacated; both are terminal.
type TriggerStatus string

const (
	TriggerOpen     TriggerStatus = "open"
	TriggerExecuted TriggerStatus = "executed"
	TriggerVacated  TriggerStatus = "vacated"
)

// Resolved reports whether the trigger has reached a terminal state.
func (s TriggerStatus) Resolved() bool {
	switch s {
	case TriggerOpen:
		return false
	case TriggerExecuted, TriggerVacated:
		return true
	}
	return false
}

// ParseTriggerStatus converts a stored string into a TriggerStatus,
// rejecting anything outside the closed set.
func ParseTriggerStatus(s string) (TriggerStatus, error) {
	switch TriggerStatus(s) {
	case TriggerOpen, TriggerExecuted, TriggerVacated:
		return TriggerStatus(s), nil
	}
	return "", fmt.Errorf("unknown trigger status %q", s)
}

// OutcomeResult says whether a resolved trigger proceeds to charging or
// vacates its pledges.
type OutcomeResult string

const (
	OutcomeProceed OutcomeResult = "proceed"
	OutcomeVacate  OutcomeResult = "vacate"
)

// ParseOutcomeResult converts a stored string into an OutcomeResult.
func ParseOutcomeResult(s string) (OutcomeResult, error) {
	switch OutcomeResult(s) {
	case OutcomeProceed, OutcomeVacate:
		return OutcomeResult(s), nil
	}
	return "", fmt.Errorf("unknown outcome result %q", s)
}

// OutcomeRecipient is one destination of a proceed outcome with its
// split weight.
type OutcomeRecipient struct {
	RecipientID string `json:"recipient_id"`
	Weight      int64  `json:"weight"`
}

// Outcome is the resolution payload recorded on a Trigger. For a proceed
// outcome the recipient list and weights drive every pledge's allocation;
// for a vacate outcome no pledge is ever charged.
type Outcome struct {
	Result      OutcomeResult      `json:"result"`
	Description string             `json:"description,omitempty"`
	Recipients  []OutcomeRecipient `json:"recipients,omitempty"`
}

// Trigger is the contingent event that pledged contributions wait on.
type Trigger struct {
	ID     string
	Title  string
	Status TriggerStatus

	// Outcome is nil while the trigger is Open and set exactly once at
	// resolution time.
	Outcome *Outcome

	// PledgeCount and TotalPledged are aggregates maintained as pledges
	// are created and cancelled while the trigger is Open.
	PledgeCount  int64
	TotalPledged int64

	CreatedAt  int64
	ResolvedAt int64
}
