// Package uibridge surfaces call, mute, and session-error events to the
// application UI layer as one stream. Call ids crossing this boundary are
// always normalized.
package uibridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/callbridge/internal/call"
)

// EventType identifies the payload kind inside an Event.
type EventType string

const (
	TypeCall         EventType = "call"
	TypeMute         EventType = "mute"
	TypeSessionError EventType = "session_error"
)

// CallEvent is emitted on every call state change.
type CallEvent struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Number    string `json:"counterparty_number"`
	Status    string `json:"status"`
	// StartedAt is unix milliseconds; absent until the call connected.
	StartedAt *int64 `json:"started_at,omitempty"`
}

// MuteEvent is emitted on mute state changes.
type MuteEvent struct {
	ID    string `json:"id"`
	Muted bool   `json:"muted"`
}

// SessionErrorEvent is emitted on session-level failures.
type SessionErrorEvent struct {
	Reason string `json:"reason"`
}

// Event is the wire envelope for the bridge stream.
type Event struct {
	// EventID is unique per event instance, for consumer deduplication.
	EventID string     `json:"event_id"`
	Type    EventType  `json:"type"`
	Time    time.Time  `json:"time"`
	Call    *CallEvent `json:"call,omitempty"`
	Mute    *MuteEvent `json:"mute,omitempty"`
	// SessionError is set for TypeSessionError events.
	SessionError *SessionErrorEvent `json:"session_error,omitempty"`
}

// FromRecord builds the call payload for a record snapshot.
func FromRecord(rec *call.Record) CallEvent {
	ev := CallEvent{
		ID:        rec.ID,
		Direction: rec.Direction.String(),
		Number:    rec.Number,
		Status:    rec.Status.String(),
	}
	if rec.Started() {
		ms := rec.StartedAt.UnixMilli()
		ev.StartedAt = &ms
	}
	return ev
}

// Emitter is the interface for pushing events over the UI bridge.
// Implementations may log, buffer in memory, or forward to a transport.
type Emitter interface {
	// EmitCall sends a call state change. Returns error only for transport
	// failures; the router treats those as non-fatal.
	EmitCall(ctx context.Context, ev CallEvent) error
	EmitMute(ctx context.Context, ev MuteEvent) error
	EmitSessionError(ctx context.Context, ev SessionErrorEvent) error
	// Close releases resources.
	Close() error
}

func newEnvelope(t EventType) Event {
	return Event{
		EventID: uuid.NewString(),
		Type:    t,
		Time:    time.Now(),
	}
}

// LogEmitter logs events at debug level. Useful for development and the
// headless daemon.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter that logs events.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) EmitCall(ctx context.Context, ev CallEvent) error {
	e.logger.Debug("ui bridge call event",
		"call_id", ev.ID,
		"direction", ev.Direction,
		"status", ev.Status,
	)
	return nil
}

func (e *LogEmitter) EmitMute(ctx context.Context, ev MuteEvent) error {
	e.logger.Debug("ui bridge mute event", "call_id", ev.ID, "muted", ev.Muted)
	return nil
}

func (e *LogEmitter) EmitSessionError(ctx context.Context, ev SessionErrorEvent) error {
	e.logger.Debug("ui bridge session error", "reason", ev.Reason)
	return nil
}

func (e *LogEmitter) Close() error { return nil }

// ChannelEmitter buffers events on an in-memory channel. Used for testing
// and for the API server's event stream. Events are dropped when the buffer
// is full rather than blocking the router.
type ChannelEmitter struct {
	mu        sync.RWMutex
	ch        chan Event
	closed    bool
	dropCount atomic.Int64
}

// NewChannelEmitter creates an emitter backed by a buffered channel.
func NewChannelEmitter(bufferSize int) *ChannelEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelEmitter{
		ch: make(chan Event, bufferSize),
	}
}

// emit holds the read lock across the send so Close cannot close the channel
// underneath a sender. The send is non-blocking, so senders never hold the
// lock for long.
func (e *ChannelEmitter) emit(ev Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil
	}

	select {
	case e.ch <- ev:
		return nil
	default:
		e.dropCount.Add(1)
		slog.Warn("ui bridge event dropped: buffer full", "type", ev.Type)
		return nil
	}
}

func (e *ChannelEmitter) EmitCall(ctx context.Context, ev CallEvent) error {
	env := newEnvelope(TypeCall)
	env.Call = &ev
	return e.emit(env)
}

func (e *ChannelEmitter) EmitMute(ctx context.Context, ev MuteEvent) error {
	env := newEnvelope(TypeMute)
	env.Mute = &ev
	return e.emit(env)
}

func (e *ChannelEmitter) EmitSessionError(ctx context.Context, ev SessionErrorEvent) error {
	env := newEnvelope(TypeSessionError)
	env.SessionError = &ev
	return e.emit(env)
}

// Events returns the channel for consuming events.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// DroppedCount returns the number of events dropped due to buffer overflow.
func (e *ChannelEmitter) DroppedCount() int64 {
	return e.dropCount.Load()
}

func (e *ChannelEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	return nil
}

// MultiEmitter fans out events to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to all provided emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (e *MultiEmitter) EmitCall(ctx context.Context, ev CallEvent) error {
	var lastErr error
	for _, em := range e.emitters {
		if err := em.EmitCall(ctx, ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *MultiEmitter) EmitMute(ctx context.Context, ev MuteEvent) error {
	var lastErr error
	for _, em := range e.emitters {
		if err := em.EmitMute(ctx, ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *MultiEmitter) EmitSessionError(ctx context.Context, ev SessionErrorEvent) error {
	var lastErr error
	for _, em := range e.emitters {
		if err := em.EmitSessionError(ctx, ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *MultiEmitter) Close() error {
	var lastErr error
	for _, em := range e.emitters {
		if err := em.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
