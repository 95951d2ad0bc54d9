// Package gateway validates user call actions against current call state and
// forwards them to the signaling backend. Actions mutate the store only when
// the backend accepted the request; a transport failure leaves local state
// exactly as it was.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/signaling"
	"github.com/voxline/callbridge/internal/uibridge"
)

var (
	// ErrCallNotFound is returned for actions on ids the store does not hold.
	ErrCallNotFound = errors.New("call not found")
	// ErrNotRinging is returned when answering a call that is not ringing.
	ErrNotRinging = errors.New("call is not ringing")
	// ErrNoActiveCall is returned when an action needs an answered call and
	// none exists.
	ErrNoActiveCall = errors.New("no active call")
)

// Config wires the gateway's collaborators.
type Config struct {
	Store  *call.Store
	Client signaling.Client
	Native nativeui.Adapter
	Bridge uibridge.Emitter
}

// Gateway is the entry point for user-initiated call actions, whether they
// arrive from the application UI or from the native telephony UI.
type Gateway struct {
	store  *call.Store
	client signaling.Client
	native nativeui.Adapter
	bridge uibridge.Emitter
	logger *slog.Logger
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		store:  cfg.Store,
		client: cfg.Client,
		native: cfg.Native,
		bridge: cfg.Bridge,
		logger: slog.Default(),
	}
}

// Dial places an outbound call and returns its id. The record is created
// only after the backend accepted the dial, so a rejected dial leaves no
// trace in the store.
func (g *Gateway) Dial(ctx context.Context, to string) (string, error) {
	id, err := g.client.Dial(ctx, signaling.DialParams{To: to})
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", to, err)
	}

	id = call.NormalizeID(id)
	rec, _ := g.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur != nil {
			// Backend reused an id we already track. Keep the existing record.
			return cur
		}
		return call.NewOutbound(id, to)
	})

	g.logger.Info("[Gateway] Outbound call placed", "call_id", id, "to", to)
	g.native.ReportOutgoingCallStarted(id)
	g.emitCall(ctx, rec)
	return id, nil
}

// Answer accepts a ringing inbound call. The answered state lands via the
// backend's leg update, not here.
func (g *Gateway) Answer(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	rec, ok := g.store.Get(id)
	if !ok {
		return fmt.Errorf("answer %s: %w", id, ErrCallNotFound)
	}
	if rec.Status != call.StatusRinging {
		return fmt.Errorf("answer %s in %s: %w", id, rec.Status, ErrNotRinging)
	}

	if err := g.client.Answer(ctx, id); err != nil {
		return fmt.Errorf("answer %s: %w", id, err)
	}
	g.logger.Info("[Gateway] Call answered", "call_id", id)
	return nil
}

// Reject declines a ringing inbound call. Because backends do not reliably
// push a leg update for locally declined calls, the gateway synthesizes the
// completion itself: mark Completed, notify, then remove. A racing backend
// event loses the store race and no-ops.
func (g *Gateway) Reject(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	if _, ok := g.store.Get(id); !ok {
		return fmt.Errorf("reject %s: %w", id, ErrCallNotFound)
	}

	if err := g.client.Reject(ctx, id); err != nil {
		return fmt.Errorf("reject %s: %w", id, err)
	}

	applied := false
	rec, ok := g.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur == nil || cur.Status == call.StatusCompleted {
			return cur
		}
		applied = true
		return cur.WithStatus(call.StatusCompleted)
	})
	if ok && applied {
		g.logger.Info("[Gateway] Call rejected", "call_id", id)
		g.native.ReportCallEnded(id, call.EndReasonDeclined)
		g.emitCall(ctx, rec)
		g.store.Remove(id)
	}
	return nil
}

// Hangup terminates a call. Completion lands via the backend's hangup event.
func (g *Gateway) Hangup(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	if _, ok := g.store.Get(id); !ok {
		return fmt.Errorf("hangup %s: %w", id, ErrCallNotFound)
	}
	if err := g.client.Hangup(ctx, id); err != nil {
		return fmt.Errorf("hangup %s: %w", id, err)
	}
	g.logger.Info("[Gateway] Hangup requested", "call_id", id)
	return nil
}

// SetMuted changes the mute state of a call. Confirmation arrives as a mute
// event from the backend.
func (g *Gateway) SetMuted(ctx context.Context, id string, muted bool) error {
	id = call.NormalizeID(id)
	if _, ok := g.store.Get(id); !ok {
		return fmt.Errorf("set muted %s: %w", id, ErrCallNotFound)
	}

	var err error
	if muted {
		err = g.client.Mute(ctx, id)
	} else {
		err = g.client.Unmute(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("set muted %s: %w", id, err)
	}
	return nil
}

// Reconnect asks the backend to re-establish media for a call.
func (g *Gateway) Reconnect(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	if _, ok := g.store.Get(id); !ok {
		return fmt.Errorf("reconnect %s: %w", id, ErrCallNotFound)
	}
	if err := g.client.Reconnect(ctx, id); err != nil {
		return fmt.Errorf("reconnect %s: %w", id, err)
	}
	g.logger.Info("[Gateway] Reconnect requested", "call_id", id)
	return nil
}

// SetNoiseSuppression toggles noise suppression for a call.
func (g *Gateway) SetNoiseSuppression(ctx context.Context, id string, enabled bool) error {
	id = call.NormalizeID(id)
	if _, ok := g.store.Get(id); !ok {
		return fmt.Errorf("noise suppression %s: %w", id, ErrCallNotFound)
	}

	var err error
	if enabled {
		err = g.client.EnableNoiseSuppression(ctx, id)
	} else {
		err = g.client.DisableNoiseSuppression(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("noise suppression %s: %w", id, err)
	}
	return nil
}

// SendDTMF plays digits into the current answered call. The target call is
// implicit: the action applies to the active call, not to an id the caller
// has to thread through.
func (g *Gateway) SendDTMF(ctx context.Context, digits string) error {
	answered := g.store.Answered()
	if len(answered) == 0 {
		return fmt.Errorf("send dtmf: %w", ErrNoActiveCall)
	}
	target := answered[0]

	if err := g.client.SendDTMF(ctx, target.ID, digits); err != nil {
		return fmt.Errorf("send dtmf to %s: %w", target.ID, err)
	}
	g.logger.Info("[Gateway] DTMF sent", "call_id", target.ID, "digits", len(digits))
	return nil
}

func (g *Gateway) emitCall(ctx context.Context, rec *call.Record) {
	if err := g.bridge.EmitCall(ctx, uibridge.FromRecord(rec)); err != nil {
		g.logger.Error("[Gateway] Bridge call emit failed",
			"call_id", rec.ID, "error", err)
	}
}
