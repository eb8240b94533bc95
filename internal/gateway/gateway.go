// Package gateway defines the payment gateway boundary: the one call the
// engine makes outward to move money, plus the classification of its
// failures into the problem taxonomy recorded on executions.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/pledgefund/backend/internal/models"
)

// ChargeRequest asks the gateway to charge a stored payment instrument.
type ChargeRequest struct {
	// ProfileToken is the gateway's reference for the payment instrument.
	ProfileToken string

	// Amount to charge in minor units.
	Amount int64

	// IdempotencyToken is stable across retries of the same pledge so the
	// gateway will not double-charge even if a response was lost after a
	// successful remote charge.
	IdempotencyToken string
}

// ChargeResult is the gateway's report of a completed charge.
type ChargeResult struct {
	// Charged is the amount actually captured. May be below the requested
	// amount only for partial authorizations, which callers treat as a
	// problem, never a silent success.
	Charged int64

	// Fees the gateway withheld from the charge.
	Fees int64

	// TransactionID is the gateway's reference for the charge.
	TransactionID string
}

// Charger performs the actual charge against a stored payment profile.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ChargeError is a classified gateway failure. Transient errors (timeouts,
// rate limits) may be retried with backoff; everything else is permanent and
// recorded on the execution as-is.
type ChargeError struct {
	Code      models.ProblemCode
	Detail    string
	Transient bool
}

func (e *ChargeError) Error() string {
	return fmt.Sprintf("gateway charge failed (%s): %s", e.Code, e.Detail)
}

// Declined builds a permanent decline error.
func Declined(detail string) *ChargeError {
	return &ChargeError{Code: models.ChargeDeclined, Detail: detail}
}

// Timeout builds a transient timeout/rate-limit error. If retries are
// exhausted it is recorded as a permanent GatewayTimeout problem.
func Timeout(detail string) *ChargeError {
	return &ChargeError{Code: models.GatewayTimeout, Detail: detail, Transient: true}
}

// Classify maps any error from a Charge call to the problem code and detail
// to record on the execution. Unclassified errors become OtherProblem.
func Classify(err error) (models.ProblemCode, string) {
	var ce *ChargeError
	if errors.As(err, &ce) {
		return ce.Code, ce.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.GatewayTimeout, "gateway call timed out"
	}
	return models.OtherProblem, err.Error()
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	var ce *ChargeError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
