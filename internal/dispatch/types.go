package dispatch

import (
	"errors"
	"fmt"
)

// Request is a validated send request. Request-scoped; never persisted.
type Request struct {
	GroupName string
	Message   string
	APIKey    string
}

// Status is the aggregate outcome of one dispatch.
type Status string

const (
	// StatusSuccess: every destination accepted the message.
	StatusSuccess Status = "success"
	// StatusPartial: some destinations accepted, some rejected.
	StatusPartial Status = "partial"
	// StatusFailed: every destination rejected the message.
	StatusFailed Status = "failed"
	// StatusEmpty: the group resolved to zero destinations.
	StatusEmpty Status = "ok"
)

// Failure records one destination that rejected the message.
type Failure struct {
	ChatID string `json:"chat_id"`
	Reason string `json:"reason"`
}

// Result is the aggregate of one dispatch over a resolved group.
//
// Invariant: len(SentTo) + len(Failed) == TotalTargets when TotalTargets > 0.
type Result struct {
	Status       Status
	SentTo       []string
	Failed       []Failure
	TotalTargets int
}

// ErrUnauthorized is returned when the api key is not granted for the group,
// or when the directory cannot answer (fail closed).
var ErrUnauthorized = errors.New("api key not authorized for group")

// ErrUpstreamUnavailable aborts a whole dispatch when any single delivery
// hits a transport-level failure: one unreachable upstream implies the
// remaining attempts would fail too.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// RejectedError is a per-destination semantic rejection by the platform
// (blocked bot, unknown chat, ...). It never aborts the batch.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "delivery rejected: " + e.Reason }

// UnavailableError is a transport-level delivery failure: connectivity,
// timeout, or a 5xx from the platform.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return "upstream unavailable"
	}
	return fmt.Sprintf("upstream unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }
