package transformer

import "sync/atomic"

// DropStats counts rejected lines per Reason. The zero value is ready to use
// and safe for concurrent writers.
type DropStats struct {
	missingCustomer atomic.Int64
	nonPosQuantity  atomic.Int64
	nonPosPrice     atomic.Int64
	badTimestamp    atomic.Int64
}

func (s *DropStats) counter(r Reason) *atomic.Int64 {
	switch r {
	case ReasonMissingCustomer:
		return &s.missingCustomer
	case ReasonNonPositiveQuantity:
		return &s.nonPosQuantity
	case ReasonNonPositiveUnitPrice:
		return &s.nonPosPrice
	case ReasonBadTimestamp:
		return &s.badTimestamp
	}
	return nil
}

// Add counts one drop for r. Unknown reasons are ignored.
func (s *DropStats) Add(r Reason) {
	if c := s.counter(r); c != nil {
		c.Add(1)
	}
}

// Get returns the current count for r.
func (s *DropStats) Get(r Reason) int64 {
	if c := s.counter(r); c != nil {
		return c.Load()
	}
	return 0
}

// Total returns the number of drops across all reasons.
func (s *DropStats) Total() int64 {
	var n int64
	for _, r := range Reasons {
		n += s.Get(r)
	}
	return n
}

// Snapshot copies the counters into a map keyed by reason.
func (s *DropStats) Snapshot() map[Reason]int64 {
	m := make(map[Reason]int64, len(Reasons))
	for _, r := range Reasons {
		m[r] = s.Get(r)
	}
	return m
}
