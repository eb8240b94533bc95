package models

import "fmt"

// PledgeStatus is the lifecycle state of a Pledge. Transitions are
// monotonic: a pledge never re-enters Open.
type PledgeStatus string

const (
	PledgeOpen      PledgeStatus = "open"
	PledgeExecuted  PledgeStatus = "executed"
	PledgeVacated   PledgeStatus = "vacated"
	PledgeCancelled PledgeStatus = "cancelled"
)

// Terminal reports whether the pledge has left the Open state for good.
func (s PledgeStatus) Terminal() bool {
	switch s {
	case PledgeOpen:
		return false
	case PledgeExecuted, PledgeVacated, PledgeCancelled:
		return true
	}
	return false
}

// ParsePledgeStatus converts a stored string into a PledgeStatus,
// rejecting anything outside the closed set.
func ParsePledgeStatus(s string) (PledgeStatus, error) {
	switch PledgeStatus(s) {
	case PledgeOpen, PledgeExecuted, PledgeVacated, PledgeCancelled:
		return PledgeStatus(s), nil
	}
	return "", fmt.Errorf("unknown pledge status %q", s)
}

// Pledge is a supporter's conditional commitment of a contribution amount,
// charged only if its trigger resolves to a proceed outcome.
type Pledge struct {
	ID        string
	TriggerID string
	ProfileID string

	// Amount is the pledged amount in minor units, fees included.
	// Always > 0. The actual charge may be lower after rounding.
	Amount int64

	// TipAmount is an optional extra earmarked for the campaign owner,
	// allocated through the same split operation as the recipients.
	TipAmount int64

	// ViaCampaign identifies the campaign the pledge was made through.
	ViaCampaign string

	// RefCode is an optional referral code recorded at creation.
	RefCode string

	Status    PledgeStatus
	CreatedAt int64
}

// CancelledPledge is the immutable archive row written when a supporter
// cancels an open pledge.
type CancelledPledge struct {
	ID          string
	PledgeID    string
	TriggerID   string
	ProfileID   string
	ViaCampaign string
	RefCode     string
	Amount      int64
	TipAmount   int64
	PledgedAt   int64
	CancelledAt int64
}
