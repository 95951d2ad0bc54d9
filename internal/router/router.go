// Package router translates signaling events into call store mutations and
// the follow-up notifications to the native UI and the UI bridge. It is the
// only writer of call state driven by the backend; user actions go through
// the gateway instead.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/signaling"
	"github.com/voxline/callbridge/internal/uibridge"
)

// AudioController is the optional hook for audio route decisions taken on
// state changes. Inbound calls answered elsewhere default the route back to
// the earpiece.
type AudioController interface {
	DisableForcedSpeaker()
}

// Config wires the router's collaborators.
type Config struct {
	Store  *call.Store
	Native nativeui.Adapter
	Bridge uibridge.Emitter
	// Audio may be nil when no audio routing is available.
	Audio AudioController
	// Clock overrides the time source in tests.
	Clock func() time.Time
}

// Router consumes the signaling event stream and keeps the call store, the
// native UI and the UI bridge in sync.
type Router struct {
	store  *call.Store
	native nativeui.Adapter
	bridge uibridge.Emitter
	audio  AudioController
	clock  func() time.Time
	logger *slog.Logger
}

// New creates a router.
func New(cfg Config) *Router {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Router{
		store:  cfg.Store,
		native: cfg.Native,
		bridge: cfg.Bridge,
		audio:  cfg.Audio,
		clock:  clock,
		logger: slog.Default(),
	}
}

// Run consumes events until the channel closes or the context is cancelled.
func (r *Router) Run(ctx context.Context, events <-chan signaling.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle processes one signaling event. Exported so the gateway's synthesized
// events and tests can drive the router directly.
func (r *Router) Handle(ctx context.Context, ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.InviteEvent:
		r.handleInvite(ctx, e)
	case signaling.InviteCancelEvent:
		r.complete(ctx, e.ID, e.Reason)
	case signaling.HangupEvent:
		r.complete(ctx, e.ID, e.Reason)
	case signaling.LegStatusEvent:
		r.handleLegStatus(ctx, e)
	case signaling.MediaReconnectingEvent:
		r.handleReconnecting(ctx, e)
	case signaling.MediaReconnectedEvent:
		r.handleReconnected(ctx, e)
	case signaling.SessionErrorEvent:
		r.handleSessionError(ctx, e)
	case signaling.MuteChangedEvent:
		r.handleMuteChanged(ctx, e)
	default:
		r.logger.Warn("[Router] Unhandled event type", "event", ev)
	}
}

func (r *Router) handleInvite(ctx context.Context, ev signaling.InviteEvent) {
	id := call.NormalizeID(ev.ID)
	created := false
	rec, _ := r.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur != nil {
			return cur
		}
		created = true
		return call.NewInbound(id, ev.From)
	})
	if !created {
		r.logger.Warn("[Router] Duplicate invite ignored", "call_id", id)
		return
	}

	r.logger.Info("[Router] Incoming call", "call_id", id, "from", ev.From)
	if err := r.native.ReportNewIncomingCall(id, ev.From); err != nil {
		r.logger.Error("[Router] Native incoming call report failed",
			"call_id", id, "error", err)
	}
	r.emitCall(ctx, rec)
}

func (r *Router) handleLegStatus(ctx context.Context, ev signaling.LegStatusEvent) {
	switch ev.Status {
	case signaling.LegRinging:
		// The invite already put the record in ringing; a later ringing leg
		// update is informational only.
		if rec, ok := r.store.Get(ev.ID); !ok || rec.Status != call.StatusRinging {
			r.logger.Debug("[Router] Stale ringing leg update", "call_id", ev.ID)
		}
	case signaling.LegAnswered:
		r.handleAnswered(ctx, ev)
	case signaling.LegCompleted:
		r.complete(ctx, ev.ID, call.EndReasonNormal)
	default:
		r.logger.Warn("[Router] Unknown leg status",
			"call_id", ev.ID, "status", string(ev.Status))
	}
}

func (r *Router) handleAnswered(ctx context.Context, ev signaling.LegStatusEvent) {
	id := call.NormalizeID(ev.ID)
	applied := false
	rec, ok := r.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur == nil {
			return nil
		}
		if !cur.Status.CanTransitionTo(call.StatusAnswered) {
			return cur
		}
		applied = true
		return cur.WithStatus(call.StatusAnswered).WithStartedAt(r.clock())
	})
	if !ok {
		r.logger.Warn("[Router] Answered leg for unknown call", "call_id", id)
		return
	}
	if !applied {
		r.logger.Debug("[Router] Stale answered leg update",
			"call_id", id, "status", rec.Status)
		return
	}

	r.logger.Info("[Router] Call answered", "call_id", id, "direction", rec.Direction)
	switch rec.Direction {
	case call.DirectionOutbound:
		r.native.ReportOutgoingCallConnected(id)
	case call.DirectionInbound:
		if r.audio != nil {
			r.audio.DisableForcedSpeaker()
		}
	}
	r.emitCall(ctx, rec)
}

func (r *Router) handleReconnecting(ctx context.Context, ev signaling.MediaReconnectingEvent) {
	id := call.NormalizeID(ev.ID)
	applied := false
	rec, ok := r.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur == nil {
			return nil
		}
		if !cur.Status.CanTransitionTo(call.StatusReconnecting) {
			return cur
		}
		applied = true
		return cur.WithStatus(call.StatusReconnecting)
	})
	if !ok || !applied {
		r.logger.Debug("[Router] Reconnecting event not applicable", "call_id", id)
		return
	}
	r.logger.Info("[Router] Media reconnecting", "call_id", id)
	r.emitCall(ctx, rec)
}

func (r *Router) handleReconnected(ctx context.Context, ev signaling.MediaReconnectedEvent) {
	id := call.NormalizeID(ev.ID)
	applied := false
	rec, ok := r.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur == nil {
			return nil
		}
		if cur.Status != call.StatusReconnecting {
			return cur
		}
		applied = true
		return cur.WithStatus(call.StatusAnswered)
	})
	if !ok || !applied {
		r.logger.Debug("[Router] Reconnected event not applicable", "call_id", id)
		return
	}
	r.logger.Info("[Router] Media reconnected", "call_id", id)
	r.emitCall(ctx, rec)
}

// complete drives a call to its terminal state. The store mutation decides
// the race: whichever terminal event lands first wins, later ones observe
// StatusCompleted and do nothing. Removal happens only after the native UI
// and the bridge have been told.
func (r *Router) complete(ctx context.Context, rawID string, reason call.EndReason) {
	id := call.NormalizeID(rawID)
	applied := false
	rec, ok := r.store.Mutate(id, func(cur *call.Record) *call.Record {
		if cur == nil {
			return nil
		}
		if cur.Status == call.StatusCompleted {
			return cur
		}
		applied = true
		return cur.WithStatus(call.StatusCompleted)
	})
	if !ok {
		r.logger.Debug("[Router] Terminal event for unknown call", "call_id", id)
		return
	}
	if !applied {
		r.logger.Debug("[Router] Call already completed", "call_id", id)
		return
	}

	r.logger.Info("[Router] Call ended", "call_id", id, "reason", reason)
	r.native.ReportCallEnded(id, reason)
	r.emitCall(ctx, rec)
	r.store.Remove(id)
}

func (r *Router) handleSessionError(ctx context.Context, ev signaling.SessionErrorEvent) {
	r.logger.Error("[Router] Session error", "reason", ev.Reason)
	if err := r.bridge.EmitSessionError(ctx, uibridge.SessionErrorEvent{Reason: ev.Reason}); err != nil {
		r.logger.Error("[Router] Bridge session error emit failed", "error", err)
	}
}

func (r *Router) handleMuteChanged(ctx context.Context, ev signaling.MuteChangedEvent) {
	id := call.NormalizeID(ev.ID)
	if err := r.bridge.EmitMute(ctx, uibridge.MuteEvent{ID: id, Muted: ev.Muted}); err != nil {
		r.logger.Error("[Router] Bridge mute emit failed", "call_id", id, "error", err)
	}
}

func (r *Router) emitCall(ctx context.Context, rec *call.Record) {
	if err := r.bridge.EmitCall(ctx, uibridge.FromRecord(rec)); err != nil {
		r.logger.Error("[Router] Bridge call emit failed",
			"call_id", rec.ID, "error", err)
	}
}
