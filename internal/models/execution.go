package models

import "fmt"

// ProblemCode classifies how a charge attempt concluded. NoProblem means
// money moved; every other code means the attempt terminated without a
// completed charge and the detail explains why.
type ProblemCode string

const (
	NoProblem                ProblemCode = "no_problem"
	ChargeDeclined           ProblemCode = "charge_declined"
	PartialAuthorizationOnly ProblemCode = "partial_authorization_only"
	AmountBelowMinimum       ProblemCode = "amount_below_minimum"
	RecipientUnavailable     ProblemCode = "recipient_unavailable"
	GatewayTimeout           ProblemCode = "gateway_timeout"
	OtherProblem             ProblemCode = "other"
)

// ParseProblemCode converts a stored string into a ProblemCode,
// rejecting anything outside the closed set.
func ParseProblemCode(s string) (ProblemCode, error) {
	switch ProblemCode(s) {
	case NoProblem, ChargeDeclined, PartialAuthorizationOnly,
		AmountBelowMinimum, RecipientUnavailable, GatewayTimeout, OtherProblem:
		return ProblemCode(s), nil
	}
	return "", fmt.Errorf("unknown problem code %q", s)
}

// Execution is the record of one attempt to realize a pledge as an actual
// charge. At most one Execution exists per pledge, enforced by a unique
// constraint, and the row is never edited after creation.
type Execution struct {
	ID       string
	PledgeID string

	// Charged is the amount actually charged in minor units. Never more
	// than the pledge amount: rounding only ever reduces. Zero when the
	// attempt failed before money moved.
	Charged int64

	// Fees is the portion of Charged kept as fees, reported separately
	// from recipient shares.
	Fees int64

	Problem ProblemCode

	// ProblemDetail is free text shown to the supporter verbatim when
	// Problem != NoProblem.
	ProblemDetail string

	// TransactionID is the gateway's reference for a completed charge.
	TransactionID string

	CreatedAt int64
}

// Succeeded reports whether the attempt completed a charge.
func (e *Execution) Succeeded() bool {
	return e.Problem == NoProblem
}

// Contribution is one recipient's share of an executed pledge. Amounts are
// positive whole minor units; recipients whose computed share rounds to
// zero get no row.
type Contribution struct {
	ID          string
	ExecutionID string
	RecipientID string
	Amount      int64
}

// Recipient is a destination that contributions can be sent to.
type Recipient struct {
	ID     string
	Name   string
	Active bool
}
