package signaling

import "github.com/voxline/callbridge/internal/call"

// LegStatus mirrors the per-leg status values reported by the backend.
type LegStatus string

const (
	LegRinging   LegStatus = "ringing"
	LegAnswered  LegStatus = "answered"
	LegCompleted LegStatus = "completed"
)

// Event is the tagged union delivered on the client's event channel. The
// scattered per-category callback registrations of the vendor SDKs collapse
// into one stream so the router is a single consume loop.
type Event interface {
	event()
}

// InviteEvent announces an inbound call.
type InviteEvent struct {
	ID   string
	From string
}

// InviteCancelEvent reports the caller cancelled before answer.
type InviteCancelEvent struct {
	ID     string
	Reason call.EndReason
}

// HangupEvent reports an established call ended.
type HangupEvent struct {
	ID     string
	Reason call.EndReason
}

// LegStatusEvent reports a leg status change. Leg status is modeled as the
// call's own status.
type LegStatusEvent struct {
	ID     string
	LegID  string
	Status LegStatus
}

// MediaReconnectingEvent reports the media transport dropped and is being
// re-established.
type MediaReconnectingEvent struct {
	ID string
}

// MediaReconnectedEvent reports media is flowing again.
type MediaReconnectedEvent struct {
	ID string
}

// SessionErrorEvent reports a session-level failure (token expiry, transport
// closed). It terminates no call.
type SessionErrorEvent struct {
	Reason string
}

// MuteChangedEvent reports a mute state change confirmed by the backend.
type MuteChangedEvent struct {
	ID    string
	LegID string
	Muted bool
}

func (InviteEvent) event()            {}
func (InviteCancelEvent) event()      {}
func (HangupEvent) event()            {}
func (LegStatusEvent) event()         {}
func (MediaReconnectingEvent) event() {}
func (MediaReconnectedEvent) event()  {}
func (SessionErrorEvent) event()      {}
func (MuteChangedEvent) event()       {}
