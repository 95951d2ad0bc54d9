package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/signaling"
)

const validPush = `{"nexmo":{"body":{"channel":{"id":"call-1","from":{"number":"+15550001111"}}}}}`

// stubClient implements the slices of signaling.Client the bootstrapper uses.
type stubClient struct {
	mu          sync.Mutex
	sessions    int
	delivered   int
	sessionErr  error
	deliverErr  error
	sessionWait time.Duration
}

func (c *stubClient) CreateSession(ctx context.Context, token string) (string, error) {
	if c.sessionWait > 0 {
		select {
		case <-time.After(c.sessionWait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionErr != nil {
		return "", c.sessionErr
	}
	c.sessions++
	return "session-1", nil
}

func (c *stubClient) DeleteSession(ctx context.Context) error { return nil }

func (c *stubClient) Dial(ctx context.Context, params signaling.DialParams) (string, error) {
	return "", errors.New("not implemented")
}

func (c *stubClient) Answer(ctx context.Context, id string) error  { return nil }
func (c *stubClient) Reject(ctx context.Context, id string) error  { return nil }
func (c *stubClient) Hangup(ctx context.Context, id string) error  { return nil }
func (c *stubClient) Mute(ctx context.Context, id string) error    { return nil }
func (c *stubClient) Unmute(ctx context.Context, id string) error  { return nil }
func (c *stubClient) Reconnect(ctx context.Context, id string) error { return nil }

func (c *stubClient) EnableNoiseSuppression(ctx context.Context, id string) error  { return nil }
func (c *stubClient) DisableNoiseSuppression(ctx context.Context, id string) error { return nil }

func (c *stubClient) SendDTMF(ctx context.Context, id, digits string) error { return nil }

func (c *stubClient) ProcessPushInvite(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deliverErr != nil {
		return c.deliverErr
	}
	c.delivered++
	return nil
}

func (c *stubClient) Events() <-chan signaling.Event { return nil }
func (c *stubClient) Close() error                   { return nil }

func (c *stubClient) deliveredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// stubTokens is a hand-rolled cache so tests control validity directly.
type stubTokens struct {
	mu    sync.Mutex
	token string
	valid bool
	sets  int
}

func (s *stubTokens) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.valid = true
	s.sets++
	return nil
}

func (s *stubTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubTokens) ValidFor(margin time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

type endRecorder struct {
	nativeui.LogAdapter
	mu    sync.Mutex
	ended []call.EndReason
}

func (n *endRecorder) ReportCallEnded(id string, reason call.EndReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, reason)
}

func (n *endRecorder) endedReasons() []call.EndReason {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]call.EndReason, len(n.ended))
	copy(out, n.ended)
	return out
}

func staticRefresh(token string) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func TestHandlePushHappyPath(t *testing.T) {
	client := &stubClient{}
	tokens := &stubTokens{}
	native := &endRecorder{}
	b := New(client, native, tokens, Config{Budget: time.Second})

	state, err := b.HandlePush(context.Background(), []byte(validPush), staticRefresh("tok"))
	if err != nil {
		t.Fatalf("HandlePush() error: %v", err)
	}
	if state != StateDelivered {
		t.Errorf("state = %s, want delivered", state)
	}
	if client.deliveredCount() != 1 {
		t.Errorf("delivered = %d, want 1", client.deliveredCount())
	}
	if tokens.sets != 1 {
		t.Errorf("token refreshes = %d, want 1", tokens.sets)
	}
	if len(native.endedReasons()) != 0 {
		t.Error("happy path reported a failed call")
	}
}

func TestHandlePushSkipsRefreshWhenTokenValid(t *testing.T) {
	client := &stubClient{}
	tokens := &stubTokens{token: "cached", valid: true}
	b := New(client, &endRecorder{}, tokens, Config{Budget: time.Second})

	refreshCalled := false
	refresh := func(ctx context.Context) (string, error) {
		refreshCalled = true
		return "fresh", nil
	}

	state, err := b.HandlePush(context.Background(), []byte(validPush), refresh)
	if err != nil || state != StateDelivered {
		t.Fatalf("HandlePush() = %s, %v", state, err)
	}
	if refreshCalled {
		t.Error("refresh called despite valid cached token")
	}
}

func TestHandlePushBudgetElapsedDeliversOnce(t *testing.T) {
	client := &stubClient{}
	tokens := &stubTokens{}
	b := New(client, &endRecorder{}, tokens, Config{Budget: 50 * time.Millisecond})

	// Refresh never resolves within the test.
	blocked := make(chan struct{})
	t.Cleanup(func() { close(blocked) })
	refresh := func(ctx context.Context) (string, error) {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
		return "", errors.New("too late")
	}

	state, err := b.HandlePush(context.Background(), []byte(validPush), refresh)
	if err != nil {
		t.Fatalf("HandlePush() error: %v", err)
	}
	if state != StateTimedOut {
		t.Errorf("state = %s, want timed_out", state)
	}

	// Give the stuck goroutine a moment; delivery must still be exactly one.
	time.Sleep(20 * time.Millisecond)
	if got := client.deliveredCount(); got != 1 {
		t.Errorf("delivered = %d, want exactly 1", got)
	}
}

func TestHandlePushSetupFailure(t *testing.T) {
	client := &stubClient{sessionErr: errors.New("backend down")}
	native := &endRecorder{}
	b := New(client, native, &stubTokens{}, Config{Budget: time.Second})

	state, err := b.HandlePush(context.Background(), []byte(validPush), staticRefresh("tok"))
	if err == nil {
		t.Fatal("HandlePush() succeeded, want error")
	}
	if state != StateFailed {
		t.Errorf("state = %s, want failed", state)
	}
	if client.deliveredCount() != 0 {
		t.Error("failed setup still delivered the invite")
	}

	reasons := native.endedReasons()
	if len(reasons) != 1 || reasons[0] != call.EndReasonFailed {
		t.Errorf("ended reports = %v, want [failed]", reasons)
	}
}

func TestHandlePushMalformedPayload(t *testing.T) {
	client := &stubClient{}
	native := &endRecorder{}
	b := New(client, native, &stubTokens{}, Config{})

	state, err := b.HandlePush(context.Background(), []byte(`{"nexmo":{}}`), staticRefresh("tok"))
	if err == nil {
		t.Fatal("HandlePush() accepted payload without caller number")
	}
	if state != StateFailed {
		t.Errorf("state = %s, want failed", state)
	}
	if client.deliveredCount() != 0 {
		t.Error("malformed payload was delivered")
	}

	reasons := native.endedReasons()
	if len(reasons) != 1 || reasons[0] != call.EndReasonFailed {
		t.Errorf("ended reports = %v, want [failed]", reasons)
	}
}

func TestHandlePushCancelledContextReportsFailure(t *testing.T) {
	client := &stubClient{}
	native := &endRecorder{}
	b := New(client, native, &stubTokens{}, Config{Budget: time.Second})

	refresh := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := b.HandlePush(ctx, []byte(validPush), refresh)
	if err == nil {
		t.Fatal("HandlePush() succeeded despite cancelled context")
	}
	if state != StateFailed {
		t.Errorf("state = %s, want failed", state)
	}
	if client.deliveredCount() != 0 {
		t.Error("cancelled push was delivered")
	}

	// The OS was told a call is coming; cancellation must still resolve it.
	reasons := native.endedReasons()
	if len(reasons) != 1 || reasons[0] != call.EndReasonFailed {
		t.Errorf("ended reports = %v, want [failed]", reasons)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRefreshingAuth, "refreshing_auth"},
		{StateCreatingSession, "creating_session"},
		{StateDelivered, "delivered"},
		{StateFailed, "failed"},
		{StateTimedOut, "timed_out"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
