// Package call defines the call record model, its status state machine,
// and the authoritative concurrency-safe call store.
package call

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a call.
type Status int

const (
	// StatusRinging is the initial state for both inbound invites and
	// accepted outbound dials.
	StatusRinging Status = iota
	// StatusAnswered means the call is connected and media is flowing.
	StatusAnswered
	// StatusReconnecting means media dropped and the client is re-establishing it.
	StatusReconnecting
	// StatusCompleted is the terminal state after hangup, cancel, or decline.
	StatusCompleted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusRinging:
		return "ringing"
	case StatusAnswered:
		return "answered"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// validTransitions defines which status transitions are allowed
var validTransitions = map[Status][]Status{
	StatusRinging:      {StatusAnswered, StatusCompleted},
	StatusAnswered:     {StatusReconnecting, StatusCompleted},
	StatusReconnecting: {StatusAnswered, StatusCompleted},
	StatusCompleted:    {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from the current status to next is valid
func (s Status) CanTransitionTo(next Status) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal status
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Direction indicates whether the call was received or placed by us.
type Direction int

const (
	// DirectionInbound represents a call received via invite.
	DirectionInbound Direction = iota
	// DirectionOutbound represents a call placed by the application.
	DirectionOutbound
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// EndReason explains why a call reached Completed.
type EndReason int

const (
	// EndReasonNormal means a normal hangup by either side.
	EndReasonNormal EndReason = iota
	// EndReasonCancelled means the invite was cancelled before answer.
	EndReasonCancelled
	// EndReasonDeclined means the call was rejected locally before answer.
	EndReasonDeclined
	// EndReasonFailed means call setup failed.
	EndReasonFailed
	// EndReasonTimeout means an answer or media timeout occurred.
	EndReasonTimeout
	// EndReasonError means an internal error occurred.
	EndReasonError
)

// String returns the string representation of the end reason.
func (r EndReason) String() string {
	switch r {
	case EndReasonNormal:
		return "normal"
	case EndReasonCancelled:
		return "cancelled"
	case EndReasonDeclined:
		return "declined"
	case EndReasonFailed:
		return "failed"
	case EndReasonTimeout:
		return "timeout"
	case EndReasonError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// NormalizeID canonicalizes a call id. The same logical id arrives with
// inconsistent casing from the push payload, the signaling client, and the
// native UI, so every ingress point normalizes before lookup or storage.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Record is the unit of truth for one call. Records are value types:
// mutation helpers return an updated copy and the store swaps whole records,
// so a Record handed out by the store never changes underneath its reader.
type Record struct {
	// ID is the normalized call identifier.
	ID string
	// Direction never changes after creation.
	Direction Direction
	// Number is the counterparty number. For inbound calls it may be empty
	// at creation and resolved later.
	Number string
	// Status is the current state machine position.
	Status Status
	// StartedAt is zero until the call is connected. It is set exactly once,
	// at the first transition into Answered.
	StartedAt time.Time
}

// NewInbound creates a Ringing record for a received invite.
func NewInbound(id, from string) *Record {
	return &Record{
		ID:        NormalizeID(id),
		Direction: DirectionInbound,
		Number:    from,
		Status:    StatusRinging,
	}
}

// NewOutbound creates a Ringing record for an accepted outbound dial.
func NewOutbound(id, to string) *Record {
	return &Record{
		ID:        NormalizeID(id),
		Direction: DirectionOutbound,
		Number:    to,
		Status:    StatusRinging,
	}
}

// Started reports whether the connect timestamp has been set.
func (r *Record) Started() bool {
	return !r.StartedAt.IsZero()
}

// WithStatus returns a copy of the record with the given status.
func (r *Record) WithStatus(s Status) *Record {
	out := *r
	out.Status = s
	return &out
}

// WithStartedAt returns a copy with the connect timestamp set. If the
// timestamp is already set the record is returned unchanged, which keeps
// the set-exactly-once invariant even across Reconnecting round trips.
func (r *Record) WithStartedAt(t time.Time) *Record {
	if r.Started() {
		return r
	}
	out := *r
	out.StartedAt = t
	return &out
}

// WithNumber returns a copy with the counterparty number filled in.
// Used when caller id resolves after an inbound record was created.
func (r *Record) WithNumber(number string) *Record {
	out := *r
	out.Number = number
	return &out
}
