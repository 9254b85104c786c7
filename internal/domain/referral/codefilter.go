package referral

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter is a bloom-filter prefilter over issued referral codes. Signup
// requests carry user-typed codes, most bad ones are typos or guesses, and a
// negative answer here skips the database lookup entirely. False positives
// only cost the lookup that would have happened anyway.
type CodeFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeFilter creates a filter sized for the expected number of issued
// codes at the given false-positive rate.
func NewCodeFilter(expectedCodes uint, fpr float64) *CodeFilter {
	return &CodeFilter{filter: bloom.NewWithEstimates(expectedCodes, fpr)}
}

// Load adds all given codes, typically the full set of issued codes at
// process start.
func (f *CodeFilter) Load(codes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range codes {
		f.filter.AddString(c)
	}
}

// Add records a newly issued code.
func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(code)
}

// MayContain reports whether code could be an issued referral code.
// False means definitely not issued; true means probably issued.
func (f *CodeFilter) MayContain(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(code)
}
