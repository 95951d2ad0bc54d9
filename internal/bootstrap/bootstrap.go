// Package bootstrap brings a cold client to a live signaling session when a
// push notification announces an incoming call. The whole sequence runs
// against a hard time budget: the OS gives the application only a few seconds
// to surface the call, so a slow token refresh must not hold the invite
// hostage.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/signaling"
)

// State describes the outcome of a push-triggered bootstrap attempt.
type State int32

const (
	// StateIdle means no bootstrap is in flight.
	StateIdle State = iota
	// StateRefreshingAuth means the session token is being refreshed.
	StateRefreshingAuth
	// StateCreatingSession means the signaling session is being created.
	StateCreatingSession
	// StateDelivered means the push invite was handed to the client.
	StateDelivered
	// StateFailed means setup failed definitively; the call was reported as
	// failed and the invite was not delivered.
	StateFailed
	// StateTimedOut means the budget elapsed and the invite was delivered
	// against whatever session state existed.
	StateTimedOut
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshingAuth:
		return "refreshing_auth"
	case StateCreatingSession:
		return "creating_session"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// RefreshFunc fetches a fresh session token.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenCache is the slice of the auth cache the bootstrapper needs.
type TokenCache interface {
	Set(token string) error
	Token() string
	ValidFor(margin time.Duration) bool
}

// Config tunes the bootstrap timing.
type Config struct {
	// Budget bounds the whole refresh-and-connect sequence. Default 5s,
	// matching the time the OS grants for surfacing a pushed call.
	Budget time.Duration
	// TokenMargin is how much remaining validity a cached token needs to be
	// reused without a refresh. Default 10s.
	TokenMargin time.Duration
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = 5 * time.Second
	}
	if c.TokenMargin <= 0 {
		c.TokenMargin = 10 * time.Second
	}
	return c
}

// Bootstrapper turns push payloads into delivered invites.
type Bootstrapper struct {
	client signaling.Client
	native nativeui.Adapter
	tokens TokenCache
	cfg    Config
	state  atomic.Int32
	logger *slog.Logger
}

// New creates a bootstrapper.
func New(client signaling.Client, native nativeui.Adapter, tokens TokenCache, cfg Config) *Bootstrapper {
	return &Bootstrapper{
		client: client,
		native: native,
		tokens: tokens,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
}

// State returns the outcome of the most recent bootstrap attempt.
func (b *Bootstrapper) State() State {
	return State(b.state.Load())
}

func (b *Bootstrapper) setState(s State) {
	b.state.Store(int32(s))
}

// HandlePush processes a push payload announcing an incoming call. It
// refreshes auth and (re)creates the signaling session, then delivers the
// payload to the client so the invite surfaces as an event. If setup is
// still running when the budget elapses, the payload is delivered anyway:
// a session created moments later can often still pick the invite up, and
// a ringing UI with a failed connect beats silence.
//
// The payload is delivered at most once per push, whatever races between
// setup completion and the budget timer.
func (b *Bootstrapper) HandlePush(ctx context.Context, payload []byte, refresh RefreshFunc) (State, error) {
	invite, err := signaling.ParsePushInvite(payload)
	if err != nil {
		// The push cannot be surfaced as a real call, but the OS was already
		// told a call is coming. Report a failed placeholder so the native UI
		// is not left with a phantom ringing entry.
		b.reportFailedPlaceholder()
		b.setState(StateFailed)
		return StateFailed, fmt.Errorf("parse push: %w", err)
	}

	b.logger.Info("[Bootstrap] Push invite received",
		"call_id", invite.CallID, "from", invite.From)

	done := make(chan error, 1)
	go func() {
		done <- b.setupSession(ctx, refresh)
	}()

	timer := time.NewTimer(b.cfg.Budget)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Error("[Bootstrap] Session setup failed", "error", err)
			b.reportFailedPlaceholder()
			b.setState(StateFailed)
			return StateFailed, err
		}
		if err := b.deliver(ctx, payload); err != nil {
			b.setState(StateFailed)
			return StateFailed, err
		}
		b.setState(StateDelivered)
		return StateDelivered, nil

	case <-timer.C:
		b.logger.Warn("[Bootstrap] Budget elapsed, delivering push anyway",
			"budget", b.cfg.Budget)
		if err := b.deliver(ctx, payload); err != nil {
			b.setState(StateFailed)
			return StateFailed, err
		}
		b.setState(StateTimedOut)
		return StateTimedOut, nil

	case <-ctx.Done():
		b.reportFailedPlaceholder()
		b.setState(StateFailed)
		return StateFailed, ctx.Err()
	}
}

func (b *Bootstrapper) setupSession(ctx context.Context, refresh RefreshFunc) error {
	token := b.tokens.Token()
	if !b.tokens.ValidFor(b.cfg.TokenMargin) {
		if refresh == nil {
			return fmt.Errorf("token expired and no refresher configured")
		}
		b.setState(StateRefreshingAuth)
		fresh, err := refresh(ctx)
		if err != nil {
			return fmt.Errorf("refresh token: %w", err)
		}
		if err := b.tokens.Set(fresh); err != nil {
			return fmt.Errorf("cache token: %w", err)
		}
		token = fresh
	}

	b.setState(StateCreatingSession)
	if _, err := b.client.CreateSession(ctx, token); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (b *Bootstrapper) deliver(ctx context.Context, payload []byte) error {
	if err := b.client.ProcessPushInvite(ctx, payload); err != nil {
		b.logger.Error("[Bootstrap] Push invite delivery failed", "error", err)
		b.reportFailedPlaceholder()
		return fmt.Errorf("deliver push invite: %w", err)
	}
	return nil
}

// reportFailedPlaceholder satisfies the OS requirement that every announced
// call gets resolved. The id is fresh because no usable call id exists on
// this path.
func (b *Bootstrapper) reportFailedPlaceholder() {
	id := uuid.NewString()
	if err := b.native.ReportNewIncomingCall(id, "unknown"); err != nil {
		b.logger.Error("[Bootstrap] Placeholder report failed", "error", err)
		return
	}
	b.native.ReportCallEnded(id, call.EndReasonFailed)
}
