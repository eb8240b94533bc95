package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Charger for tests. It dedupes by idempotency token
// the way a real gateway does, records every call, and can be scripted to
// fail a number of times before succeeding.
type Fake struct {
	mu sync.Mutex

	// Err, when set, is returned by every Charge call (after FailCount is
	// exhausted, permanently).
	Err error

	// FailCount makes the first N calls per token return Err, then succeed.
	// Used to exercise transient retry paths.
	FailCount int

	// Fees is withheld from each successful charge.
	Fees int64

	calls    []ChargeRequest
	failures map[string]int
	results  map[string]*ChargeResult
	seq      int
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		failures: make(map[string]int),
		results:  make(map[string]*ChargeResult),
	}
}

// Charge implements Charger.
func (f *Fake) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)

	// Idempotent replay: a token that already charged returns the same
	// result without charging again.
	if res, ok := f.results[req.IdempotencyToken]; ok {
		return res, nil
	}

	if f.Err != nil {
		if f.FailCount == 0 || f.failures[req.IdempotencyToken] < f.FailCount {
			f.failures[req.IdempotencyToken]++
			return nil, f.Err
		}
	}

	f.seq++
	res := &ChargeResult{
		Charged:       req.Amount,
		Fees:          f.Fees,
		TransactionID: fmt.Sprintf("txn-%06d", f.seq),
	}
	f.results[req.IdempotencyToken] = res
	return res, nil
}

// Calls returns a copy of every charge request seen so far.
func (f *Fake) Calls() []ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChargeRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// ChargeCount returns the number of distinct successful charges.
func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}
