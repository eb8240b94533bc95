package allocation

// FeeSchedule models processing costs as a fixed amount plus a fraction of
// the charge, expressed in basis points. All amounts are integer minor units.
type FeeSchedule struct {
	Fixed int64
	Bps   int64
}

// Fee returns the fee owed on a charge of the given amount, rounded up so
// the platform never under-collects.
func (s FeeSchedule) Fee(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return s.Fixed + (amount*s.Bps+9999)/10000
}

// MinPledge returns the smallest pledge amount that still leaves at least
// one minor unit for each of n destinations after fees.
func (s FeeSchedule) MinPledge(n int) int64 {
	if n < 1 {
		n = 1
	}
	if s.Bps >= 10000 {
		return 0
	}
	// Smallest a with a - Fee(a) >= n, i.e. a*(10000-Bps)/10000 >= n+Fixed.
	need := int64(n) + s.Fixed
	return (need*10000 + (10000 - s.Bps) - 1) / (10000 - s.Bps)
}
