package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/nativeui"
	"github.com/voxline/callbridge/internal/signaling"
	"github.com/voxline/callbridge/internal/uibridge"
)

var errTransport = errors.New("transport down")

// fakeClient records forwarded actions and fails on demand.
type fakeClient struct {
	mu       sync.Mutex
	fail     bool
	dialID   string
	answers  []string
	rejects  []string
	hangups  []string
	mutes    []string
	unmutes  []string
	dtmf     map[string]string
	events   chan signaling.Event
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		dialID: "srv-call-1",
		dtmf:   make(map[string]string),
		events: make(chan signaling.Event, 16),
	}
}

func (c *fakeClient) CreateSession(ctx context.Context, token string) (string, error) {
	return "session-1", nil
}

func (c *fakeClient) DeleteSession(ctx context.Context) error { return nil }

func (c *fakeClient) Dial(ctx context.Context, params signaling.DialParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errTransport
	}
	return c.dialID, nil
}

func (c *fakeClient) Answer(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.answers = append(c.answers, id)
	return nil
}

func (c *fakeClient) Reject(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.rejects = append(c.rejects, id)
	return nil
}

func (c *fakeClient) Hangup(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.hangups = append(c.hangups, id)
	return nil
}

func (c *fakeClient) Mute(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.mutes = append(c.mutes, id)
	return nil
}

func (c *fakeClient) Unmute(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.unmutes = append(c.unmutes, id)
	return nil
}

func (c *fakeClient) Reconnect(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	return nil
}

func (c *fakeClient) EnableNoiseSuppression(ctx context.Context, id string) error {
	return nil
}

func (c *fakeClient) DisableNoiseSuppression(ctx context.Context, id string) error {
	return nil
}

func (c *fakeClient) SendDTMF(ctx context.Context, id, digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errTransport
	}
	c.dtmf[id] = digits
	return nil
}

func (c *fakeClient) ProcessPushInvite(ctx context.Context, payload []byte) error {
	return nil
}

func (c *fakeClient) Events() <-chan signaling.Event { return c.events }

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

type countingNative struct {
	nativeui.LogAdapter
	mu      sync.Mutex
	started []string
	ended   []call.EndReason
}

func (n *countingNative) ReportOutgoingCallStarted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, id)
}

func (n *countingNative) ReportCallEnded(id string, reason call.EndReason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, reason)
}

func newTestGateway() (*Gateway, *call.Store, *fakeClient, *countingNative, *uibridge.ChannelEmitter) {
	store := call.NewStore()
	client := newFakeClient()
	native := &countingNative{}
	bridge := uibridge.NewChannelEmitter(32)
	g := New(Config{
		Store:  store,
		Client: client,
		Native: native,
		Bridge: bridge,
	})
	return g, store, client, native, bridge
}

func seedRinging(store *call.Store, id, from string) {
	store.Mutate(id, func(*call.Record) *call.Record {
		return call.NewInbound(id, from)
	})
}

func TestDialCreatesRecordAfterAcceptance(t *testing.T) {
	g, store, _, native, bridge := newTestGateway()

	id, err := g.Dial(context.Background(), "+15557654321")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	if id != "srv-call-1" {
		t.Errorf("Dial() id = %q, want srv-call-1", id)
	}

	rec, ok := store.Get(id)
	if !ok {
		t.Fatal("no record after accepted dial")
	}
	if rec.Direction != call.DirectionOutbound || rec.Status != call.StatusRinging {
		t.Errorf("record = %+v, want outbound ringing", rec)
	}
	if len(native.started) != 1 {
		t.Errorf("started reports = %d, want 1", len(native.started))
	}

	select {
	case ev := <-bridge.Events():
		if ev.Type != uibridge.TypeCall || ev.Call.Status != "ringing" {
			t.Errorf("bridge event = %+v, want ringing call", ev)
		}
	default:
		t.Error("no bridge event after dial")
	}
}

func TestDialFailureLeavesStoreUntouched(t *testing.T) {
	g, store, client, native, _ := newTestGateway()
	client.setFail(true)

	_, err := g.Dial(context.Background(), "+15557654321")
	if !errors.Is(err, errTransport) {
		t.Fatalf("Dial() error = %v, want transport error", err)
	}
	if store.Len() != 0 {
		t.Error("failed dial created a record")
	}
	if len(native.started) != 0 {
		t.Error("failed dial reported to native UI")
	}
}

func TestAnswerOnlyWhenRinging(t *testing.T) {
	g, store, client, _, _ := newTestGateway()
	ctx := context.Background()

	if err := g.Answer(ctx, "missing"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("Answer(missing) = %v, want ErrCallNotFound", err)
	}

	seedRinging(store, "call-1", "+1555000")
	if err := g.Answer(ctx, "CALL-1"); err != nil {
		t.Fatalf("Answer(ringing) error: %v", err)
	}
	if len(client.answers) != 1 || client.answers[0] != "call-1" {
		t.Errorf("forwarded answers = %v, want [call-1]", client.answers)
	}

	// Answer must not mutate local state; the leg event does that.
	rec, _ := store.Get("call-1")
	if rec.Status != call.StatusRinging {
		t.Errorf("status = %s, Answer mutated store", rec.Status)
	}

	store.Mutate("call-1", func(cur *call.Record) *call.Record {
		return cur.WithStatus(call.StatusAnswered)
	})
	if err := g.Answer(ctx, "call-1"); !errors.Is(err, ErrNotRinging) {
		t.Errorf("Answer(answered) = %v, want ErrNotRinging", err)
	}
}

func TestAnswerTransportFailure(t *testing.T) {
	g, store, client, _, _ := newTestGateway()
	seedRinging(store, "call-1", "+1555000")
	client.setFail(true)

	err := g.Answer(context.Background(), "call-1")
	if !errors.Is(err, errTransport) {
		t.Fatalf("Answer() = %v, want transport error", err)
	}
	rec, _ := store.Get("call-1")
	if rec.Status != call.StatusRinging {
		t.Errorf("status = %s, failed answer mutated store", rec.Status)
	}
}

func TestRejectSynthesizesCompletion(t *testing.T) {
	g, store, client, native, bridge := newTestGateway()
	seedRinging(store, "call-1", "+1555000")

	if err := g.Reject(context.Background(), "Call-1"); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if len(client.rejects) != 1 {
		t.Fatalf("rejects forwarded = %d, want 1", len(client.rejects))
	}
	if _, ok := store.Get("call-1"); ok {
		t.Error("record still present after reject")
	}
	if len(native.ended) != 1 || native.ended[0] != call.EndReasonDeclined {
		t.Errorf("ended reports = %v, want [declined]", native.ended)
	}

	select {
	case ev := <-bridge.Events():
		if ev.Call == nil || ev.Call.Status != "completed" {
			t.Errorf("bridge event = %+v, want completed call", ev)
		}
	default:
		t.Error("no bridge event for synthesized completion")
	}
}

func TestRejectTransportFailureKeepsRecord(t *testing.T) {
	g, store, client, native, _ := newTestGateway()
	seedRinging(store, "call-1", "+1555000")
	client.setFail(true)

	err := g.Reject(context.Background(), "call-1")
	if !errors.Is(err, errTransport) {
		t.Fatalf("Reject() = %v, want transport error", err)
	}
	rec, ok := store.Get("call-1")
	if !ok || rec.Status != call.StatusRinging {
		t.Error("failed reject mutated or removed the record")
	}
	if len(native.ended) != 0 {
		t.Error("failed reject reported an end to native UI")
	}
}

func TestHangupForwardsWithoutMutation(t *testing.T) {
	g, store, client, _, _ := newTestGateway()
	store.Mutate("call-1", func(*call.Record) *call.Record {
		return call.NewInbound("call-1", "+1555000").WithStatus(call.StatusAnswered)
	})

	if err := g.Hangup(context.Background(), "call-1"); err != nil {
		t.Fatalf("Hangup() error: %v", err)
	}
	if len(client.hangups) != 1 {
		t.Errorf("hangups forwarded = %d, want 1", len(client.hangups))
	}
	rec, ok := store.Get("call-1")
	if !ok || rec.Status != call.StatusAnswered {
		t.Error("Hangup mutated the record before backend confirmation")
	}
}

func TestSetMuted(t *testing.T) {
	g, store, client, _, _ := newTestGateway()
	seedRinging(store, "call-1", "+1555000")
	ctx := context.Background()

	if err := g.SetMuted(ctx, "call-1", true); err != nil {
		t.Fatalf("SetMuted(true) error: %v", err)
	}
	if err := g.SetMuted(ctx, "call-1", false); err != nil {
		t.Fatalf("SetMuted(false) error: %v", err)
	}
	if len(client.mutes) != 1 || len(client.unmutes) != 1 {
		t.Errorf("mutes=%v unmutes=%v, want one each", client.mutes, client.unmutes)
	}

	if err := g.SetMuted(ctx, "missing", true); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("SetMuted(missing) = %v, want ErrCallNotFound", err)
	}
}

func TestSendDTMFTargetsActiveCall(t *testing.T) {
	g, store, client, _, _ := newTestGateway()
	ctx := context.Background()

	if err := g.SendDTMF(ctx, "123"); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("SendDTMF with no calls = %v, want ErrNoActiveCall", err)
	}

	// A ringing call is not an active call.
	seedRinging(store, "ringing-1", "+1555000")
	if err := g.SendDTMF(ctx, "123"); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("SendDTMF with only ringing = %v, want ErrNoActiveCall", err)
	}

	store.Mutate("active-1", func(*call.Record) *call.Record {
		return call.NewInbound("active-1", "+1555111").WithStatus(call.StatusAnswered)
	})
	if err := g.SendDTMF(ctx, "123#"); err != nil {
		t.Fatalf("SendDTMF() error: %v", err)
	}
	if client.dtmf["active-1"] != "123#" {
		t.Errorf("dtmf = %v, want digits on active-1", client.dtmf)
	}
}
