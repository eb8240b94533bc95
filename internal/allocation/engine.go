// Package allocation splits a charged amount across weighted destinations.
//
// The engine is pure: no state, no I/O, and the same inputs always produce
// the same outputs. Determinism matters twice over: the split is part of an
// auditable financial record, and idempotent retries must recompute the
// identical result.
package allocation

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidInput indicates a caller bug (bad amount, weights, or fee).
// It is never retried.
var ErrInvalidInput = errors.New("invalid allocation input")

// RemainderPolicy controls what happens to the sub-unit shortfall left by
// flooring the weighted shares.
type RemainderPolicy int

const (
	// DistributeRemainder hands the remainder out one minor unit at a
	// time, in descending weight order with ties broken by ascending
	// destination ID, until exhausted.
	DistributeRemainder RemainderPolicy = iota

	// AbsorbRemainder drops the remainder entirely; it is reported on the
	// Result so callers can fold it into fees.
	AbsorbRemainder
)

// Destination is one target of a split. A destination carries either a
// relative Weight or a Fixed minor-unit amount taken off the top before the
// weighted split; the pledge tip is expressed as a Fixed destination so tips
// and recipient shares go through the one split operation.
type Destination struct {
	ID     string
	Weight int64
	Fixed  int64
}

// Share is the computed amount for one destination. Destinations whose
// share rounds to zero produce no Share.
type Share struct {
	ID     string
	Amount int64
}

// Result is the outcome of a split. The invariant
//
//	sum(Shares) + Fee + Remainder == amount
//
// always holds, and Remainder is zero unless AbsorbRemainder was requested.
type Result struct {
	Shares    []Share
	Fee       int64
	Remainder int64
}

// Total returns the sum of all allocated shares.
func (r *Result) Total() int64 {
	var sum int64
	for _, s := range r.Shares {
		sum += s.Amount
	}
	return sum
}

// Split divides amount across the destinations. The fee is subtracted before
// splitting and reported separately, never folded into a share. Fixed
// destinations are paid in input order, then the rest is split by weight:
// every destination with weight > 0 receives floor(pool x weight / sumWeights)
// as a base share, and the flooring shortfall follows the remainder policy.
// The engine never allocates more than amount in total.
func Split(amount, fee int64, dests []Destination, policy RemainderPolicy) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidInput, amount)
	}
	if fee < 0 || fee >= amount {
		return nil, fmt.Errorf("%w: fee %d out of range for amount %d", ErrInvalidInput, fee, amount)
	}
	if len(dests) == 0 {
		return nil, fmt.Errorf("%w: no destinations", ErrInvalidInput)
	}

	var totalWeight, totalFixed int64
	for _, d := range dests {
		if d.Weight < 0 {
			return nil, fmt.Errorf("%w: negative weight %d for destination %s", ErrInvalidInput, d.Weight, d.ID)
		}
		if d.Fixed < 0 {
			return nil, fmt.Errorf("%w: negative fixed amount %d for destination %s", ErrInvalidInput, d.Fixed, d.ID)
		}
		totalWeight += d.Weight
		totalFixed += d.Fixed
	}

	pool := amount - fee - totalFixed
	if pool < 0 {
		return nil, fmt.Errorf("%w: fixed amounts %d exceed splittable amount %d", ErrInvalidInput, totalFixed, amount-fee)
	}
	if pool > 0 && totalWeight == 0 {
		return nil, fmt.Errorf("%w: all weights are zero", ErrInvalidInput)
	}

	amounts := make([]int64, len(dests))
	for i, d := range dests {
		amounts[i] = d.Fixed
		if d.Weight > 0 && totalWeight > 0 {
			amounts[i] += pool * d.Weight / totalWeight
		}
	}

	var allocated int64
	for _, a := range amounts {
		allocated += a
	}
	remainder := amount - fee - allocated

	switch policy {
	case DistributeRemainder:
		// Deterministic hand-out order: heaviest weight first, ties by ID.
		order := make([]int, 0, len(dests))
		for i, d := range dests {
			if d.Weight > 0 {
				order = append(order, i)
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			da, db := dests[order[a]], dests[order[b]]
			if da.Weight != db.Weight {
				return da.Weight > db.Weight
			}
			return da.ID < db.ID
		})
		for i := 0; remainder > 0 && len(order) > 0; i = (i + 1) % len(order) {
			amounts[order[i]]++
			remainder--
		}
	case AbsorbRemainder:
		// Remainder is dropped and reported.
	default:
		return nil, fmt.Errorf("%w: unknown remainder policy %d", ErrInvalidInput, policy)
	}

	res := &Result{Fee: fee, Remainder: remainder}
	for i, d := range dests {
		if amounts[i] > 0 {
			res.Shares = append(res.Shares, Share{ID: d.ID, Amount: amounts[i]})
		}
	}
	return res, nil
}
