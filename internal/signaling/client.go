// Package signaling abstracts the VoIP backend: the imperative call-control
// capability consumed by the gateway and bootstrapper, and the event surface
// consumed by the router. The vendor transport owns the wire format;
// implementations live in subpackages.
package signaling

import (
	"context"
	"errors"
)

// ErrUnknownCall is returned by call-scoped operations when the client has
// no signaling state for the given id.
var ErrUnknownCall = errors.New("unknown call id")

// DialParams carries the destination and optional opaque context for an
// outbound server call.
type DialParams struct {
	// To is the destination number or address.
	To string
	// CustomData is forwarded to the backend untouched.
	CustomData map[string]string
}

// Client is the call-control capability of the signaling backend.
//
// Every operation is a network round trip: it either succeeds, in which case
// state changes are confirmed asynchronously on the Events channel, or it
// returns an error and the caller must leave local state untouched.
type Client interface {
	// CreateSession authenticates with the backend and returns a session id.
	// Calling it with an existing live session refreshes the session.
	CreateSession(ctx context.Context, token string) (string, error)
	// DeleteSession tears the session down.
	DeleteSession(ctx context.Context) error

	// Dial places an outbound call and returns its call id once the backend
	// accepts the request. Ringing/answered progress arrives as leg events.
	Dial(ctx context.Context, params DialParams) (string, error)
	// Answer accepts a ringing inbound call.
	Answer(ctx context.Context, id string) error
	// Reject declines a ringing inbound call. Backends do not guarantee a
	// timely leg update for locally declined calls.
	Reject(ctx context.Context, id string) error
	// Hangup terminates an established call.
	Hangup(ctx context.Context, id string) error

	Mute(ctx context.Context, id string) error
	Unmute(ctx context.Context, id string) error

	// Reconnect re-establishes media for a call whose transport dropped.
	Reconnect(ctx context.Context, id string) error

	EnableNoiseSuppression(ctx context.Context, id string) error
	DisableNoiseSuppression(ctx context.Context, id string) error

	// SendDTMF plays DTMF digits into an established call.
	SendDTMF(ctx context.Context, id, digits string) error

	// ProcessPushInvite hands a raw push payload to the client so it can
	// surface the announced inbound call as an Invite event.
	ProcessPushInvite(ctx context.Context, payload []byte) error

	// Events returns the channel carrying the client's callback surface as
	// a single tagged-union stream. The channel is closed by Close.
	Events() <-chan Event

	// Close releases transport resources.
	Close() error
}
