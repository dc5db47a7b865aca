package queues

import (
	"context"
	"encoding/json"
	"time"
)

const EnvelopeVersion = "1.0"

type ControlAction string

const (
	ActionConfigure ControlAction = "configure"
	ActionStart     ControlAction = "start"
	ActionStop      ControlAction = "stop"
)

// ControlCommand is a controller instruction received from the queue.
// Settings is decoded by the receiver into its own settings type.
type ControlCommand struct {
	EnvelopeVersion string          `json:"envelopeVersion"`
	Type            string          `json:"type"`
	Action          ControlAction   `json:"action"`
	BearerToken     string          `json:"bearerToken,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
}

func (c *ControlCommand) Valid() bool {
	switch c.Action {
	case ActionStart:
		return c.BearerToken != ""
	case ActionConfigure:
		return len(c.Settings) > 0
	case ActionStop:
		return true
	default:
		return false
	}
}

type NoticeType string

const (
	NoticeReservation    NoticeType = "reservation-result"
	NoticeSessionSummary NoticeType = "session-summary"
)

type SessionStatus string

const (
	StatusReserved SessionStatus = "Reserved"
	StatusStopped  SessionStatus = "Stopped"
	StatusHold     SessionStatus = "Hold"
)

// SessionNotice reports a reservation or the end of an engine session.
type SessionNotice struct {
	EnvelopeVersion string            `json:"envelopeVersion"`
	Type            NoticeType        `json:"type"`
	SessionID       string            `json:"sessionId"`
	EventID         string            `json:"eventId"`
	Status          SessionStatus     `json:"status"`
	VariantName     *string           `json:"variantName,omitempty"`
	WorkerID        *string           `json:"workerId,omitempty"`
	Stats           map[string]uint64 `json:"stats,omitempty"`
	At              time.Time         `json:"at"`
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *ControlCommand) error) error
}

type Publisher interface {
	PublishNotice(ctx context.Context, n *SessionNotice) error
}
