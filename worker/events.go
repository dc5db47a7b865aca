package worker

import "time"

// EventKind tags one step of a poll tick.
type EventKind int

const (
	RequestStarted EventKind = iota + 1
	RequestError
	RequestSucceeded
	NoAvailableVariants
	BuyAttempt
	StrictSkip
	BuySucceeded
	BuyFailed
	AlreadyInCart
)

var kindNames = map[EventKind]string{
	RequestStarted:      "request_started",
	RequestError:        "request_error",
	RequestSucceeded:    "request_succeeded",
	NoAvailableVariants: "no_available_variants",
	BuyAttempt:          "buy_attempt",
	StrictSkip:          "strict_skip",
	BuySucceeded:        "buy_succeeded",
	BuyFailed:           "buy_failed",
	AlreadyInCart:       "already_in_cart",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Kinds lists every event kind in declaration order.
func Kinds() []EventKind {
	return []EventKind{
		RequestStarted, RequestError, RequestSucceeded, NoAvailableVariants,
		BuyAttempt, StrictSkip, BuySucceeded, BuyFailed, AlreadyInCart,
	}
}

// Event is emitted by a worker once per tick step. VariantName is set on
// BuyAttempt and BuySucceeded.
type Event struct {
	Kind        EventKind
	WorkerID    string
	VariantName string
	At          time.Time
}
