package engine

import (
	"sync"

	"ticket-reservation-bot/worker"
)

// Counters is a point-in-time copy of the session statistics.
type Counters struct {
	RequestsStarted     uint64 `json:"requestsStarted"`
	RequestErrors       uint64 `json:"requestErrors"`
	RequestSuccesses    uint64 `json:"requestSuccesses"`
	NoAvailableVariants uint64 `json:"noAvailableVariants"`
	BuyAttempts         uint64 `json:"buyAttempts"`
	StrictSkips         uint64 `json:"strictSkips"`
	BuySucceeded        uint64 `json:"buySucceeded"`
	BuyFailed           uint64 `json:"buyFailed"`
	AlreadyInCart       uint64 `json:"alreadyInCart"`
}

// SuccessRate is (1 - errors/successes) * 100, or 0 before any success.
func (c Counters) SuccessRate() float64 {
	if c.RequestSuccesses == 0 {
		return 0
	}
	return (1 - float64(c.RequestErrors)/float64(c.RequestSuccesses)) * 100
}

// TotalSkips counts ticks that ended without a reservation attempt reaching
// the service.
func (c Counters) TotalSkips() uint64 {
	return c.NoAvailableVariants + c.StrictSkips + c.AlreadyInCart
}

// ByKind keys the counters by event kind label.
func (c Counters) ByKind() map[string]uint64 {
	return map[string]uint64{
		worker.RequestStarted.String():      c.RequestsStarted,
		worker.RequestError.String():        c.RequestErrors,
		worker.RequestSucceeded.String():    c.RequestSuccesses,
		worker.NoAvailableVariants.String(): c.NoAvailableVariants,
		worker.BuyAttempt.String():          c.BuyAttempts,
		worker.StrictSkip.String():          c.StrictSkips,
		worker.BuySucceeded.String():        c.BuySucceeded,
		worker.BuyFailed.String():           c.BuyFailed,
		worker.AlreadyInCart.String():       c.AlreadyInCart,
	}
}

// Stats aggregates outcome events into per-kind counters. Counters only
// grow until Reset.
type Stats struct {
	mu     sync.RWMutex
	counts map[worker.EventKind]uint64
}

func NewStats() *Stats {
	return &Stats{counts: make(map[worker.EventKind]uint64)}
}

// Record adds one to the counter of e's kind. BuyAttempt events count
// once regardless of the variant attempted.
func (s *Stats) Record(e worker.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[e.Kind]++
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[worker.EventKind]uint64)
}

func (s *Stats) Snapshot() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counters{
		RequestsStarted:     s.counts[worker.RequestStarted],
		RequestErrors:       s.counts[worker.RequestError],
		RequestSuccesses:    s.counts[worker.RequestSucceeded],
		NoAvailableVariants: s.counts[worker.NoAvailableVariants],
		BuyAttempts:         s.counts[worker.BuyAttempt],
		StrictSkips:         s.counts[worker.StrictSkip],
		BuySucceeded:        s.counts[worker.BuySucceeded],
		BuyFailed:           s.counts[worker.BuyFailed],
		AlreadyInCart:       s.counts[worker.AlreadyInCart],
	}
}
