package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-reservation-bot/selector"
	"ticket-reservation-bot/worker"
)

// ErrConfiguration matches every *ConfigError via errors.Is.
var ErrConfiguration = errors.New("invalid engine configuration")

// ConfigError names the setting that made Start reject.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// Settings is everything a session needs besides the bearer token.
// Priorities is nil when the current priority list should be kept.
type Settings struct {
	EventID           string                `json:"eventId"`
	ThreadCount       int                   `json:"threadCount"`
	PollIntervalMs    int                   `json:"pollIntervalMs"`
	RequestTimeoutMs  int                   `json:"requestTimeoutMs"`
	StrictPriority    bool                  `json:"strictPriority"`
	AutoStop          bool                  `json:"autoStop"`
	UseCustomQuantity bool                  `json:"useCustomQuantity"`
	CustomQuantity    int                   `json:"customQuantity"`
	Filter            selector.FilterPolicy `json:"filter,omitempty"`
	Priorities        []string              `json:"priorities,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		ThreadCount:      10,
		PollIntervalMs:   200,
		RequestTimeoutMs: 500,
		CustomQuantity:   1,
		Filter:           selector.FilterActive,
	}
}

// Validate checks s together with the priority list that will be used.
func (s Settings) Validate(priorities []selector.PriorityItem) error {
	if strings.TrimSpace(s.EventID) == "" {
		return &ConfigError{Field: "eventId", Reason: "must not be blank"}
	}
	if s.ThreadCount < 1 {
		return &ConfigError{Field: "threadCount", Reason: "must be a positive integer"}
	}
	if s.PollIntervalMs < 1 {
		return &ConfigError{Field: "pollIntervalMs", Reason: "must be a positive integer"}
	}
	if s.RequestTimeoutMs < 1 {
		return &ConfigError{Field: "requestTimeoutMs", Reason: "must be a positive integer"}
	}
	if s.UseCustomQuantity && s.CustomQuantity < 1 {
		return &ConfigError{Field: "customQuantity", Reason: "must be a positive number when enabled"}
	}
	if _, err := selector.ParseFilterPolicy(string(s.Filter)); err != nil {
		return &ConfigError{Field: "filter", Reason: err.Error()}
	}
	for _, p := range priorities {
		if strings.TrimSpace(p.Match) == "" {
			return &ConfigError{Field: "priorities", Reason: fmt.Sprintf("item %d has empty match text", p.Rank)}
		}
	}
	return nil
}

func (s Settings) workerConfig(bearerToken string, priorities []selector.PriorityItem) worker.Config {
	filter, _ := selector.ParseFilterPolicy(string(s.Filter))
	return worker.Config{
		EventID:           strings.TrimSpace(s.EventID),
		PollInterval:      time.Duration(s.PollIntervalMs) * time.Millisecond,
		RequestTimeout:    time.Duration(s.RequestTimeoutMs) * time.Millisecond,
		BearerToken:       bearerToken,
		Priorities:        priorities,
		StrictPriority:    s.StrictPriority,
		UseCustomQuantity: s.UseCustomQuantity,
		CustomQuantity:    s.CustomQuantity,
		Filter:            filter,
	}
}
