// Package sipclient implements the signaling.Client interface over SIP using
// sipgo. One client maintains one session towards the backend: inbound calls
// arrive as INVITE requests, outbound calls are originated as INVITE client
// transactions, and everything call-related is surfaced on the event channel.
package sipclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/signaling"
	"github.com/voxline/callbridge/internal/store"
)

// Config holds the SIP client configuration.
type Config struct {
	// BackendAddr is the host:port of the signaling backend.
	BackendAddr string
	// BackendHost is the SIP domain used in request URIs. Defaults to the
	// host part of BackendAddr.
	BackendHost string
	// BindAddr is the local listen address.
	BindAddr string
	// Port is the local SIP port.
	Port int
	// AdvertiseAddr is the address placed in Contact and From headers.
	AdvertiseAddr string
	// Identity is the local SIP user.
	Identity string
	// MediaAddr and MediaPort are advertised in SDP bodies.
	MediaAddr string
	MediaPort int
	// Codecs are the offered payload types. Defaults to PCMU.
	Codecs []string

	// EventBuffer sizes the event channel. Defaults to 64.
	EventBuffer int
	// DialTimeout bounds outbound call setup. Defaults to 30s.
	DialTimeout time.Duration
	// PendingTTL bounds how long an unanswered invite is held. Defaults to 60s.
	PendingTTL time.Duration
	// PushWait is how long Answer waits for the wire INVITE matching a
	// push-announced call. Defaults to 2s.
	PushWait time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Identity == "" {
		out.Identity = "callbridge"
	}
	if out.Port == 0 {
		out.Port = 5060
	}
	if out.MediaAddr == "" {
		out.MediaAddr = out.AdvertiseAddr
	}
	if out.MediaPort == 0 {
		out.MediaPort = 10000
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 64
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 30 * time.Second
	}
	if out.PendingTTL <= 0 {
		out.PendingTTL = 60 * time.Second
	}
	if out.PushWait <= 0 {
		out.PushWait = 2 * time.Second
	}
	return out
}

// pendingInvite is an inbound call that has not been answered or rejected.
type pendingInvite struct {
	from string
	req  *sip.Request
	tx   sip.ServerTransaction
	// wire is closed when the INVITE arrives over the signaling connection.
	// For push-synthesized invites the request and transaction are nil until
	// then.
	wire     chan struct{}
	pushOnly bool
}

// dialogState carries what in-dialog requests (BYE, INFO, re-INVITE) need.
type dialogState struct {
	// wireID is the Call-ID exactly as it appears on the wire. Map keys use
	// the normalized form, SIP messages must not.
	wireID    string
	target    sip.Uri
	localURI  sip.Uri
	remoteURI sip.Uri
	localTag  string
	remoteTag string
	cseq      uint32
}

// activeCall is an established or establishing call.
type activeCall struct {
	mu              sync.Mutex
	inbound         bool
	session         *sipgo.DialogServerSession
	dlg             *dialogState
	muted           bool
	noiseSuppressed bool
}

// Client is the sipgo-backed signaling client.
type Client struct {
	cfg      Config
	ua       *sipgo.UserAgent
	srv      *sipgo.Server
	uac      *sipgo.Client
	dialogUA *sipgo.DialogUA

	events  chan signaling.Event
	pending *store.TTLStore[string, *pendingInvite]

	mu        sync.RWMutex
	active    map[string]*activeCall
	sessionID string
	closed    bool

	logger *slog.Logger
}

var _ signaling.Client = (*Client)(nil)

// New creates a SIP client. Call ListenAndServe to start accepting inbound
// traffic.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	uac, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   cfg.Identity,
			Host:   cfg.AdvertiseAddr,
			Port:   cfg.Port,
		},
	}
	dialogUA := &sipgo.DialogUA{
		Client:     uac,
		ContactHDR: contact,
	}

	c := &Client{
		cfg:      cfg,
		ua:       ua,
		srv:      srv,
		uac:      uac,
		dialogUA: dialogUA,
		events:   make(chan signaling.Event, cfg.EventBuffer),
		active:   make(map[string]*activeCall),
		logger:   slog.Default(),
	}

	// Unanswered invites expire instead of lingering; the eviction surfaces
	// as a cancel so call state does not stay ringing forever.
	c.pending = store.NewTTLStore[string, *pendingInvite](10*time.Second, c.onPendingExpired)

	srv.OnRequest(sip.INVITE, c.onInvite)
	srv.OnRequest(sip.CANCEL, c.onCancel)
	srv.OnRequest(sip.BYE, c.onBye)
	srv.OnRequest(sip.ACK, c.onAck)

	return c, nil
}

// ListenAndServe binds the SIP listener and blocks until ctx is cancelled.
func (c *Client) ListenAndServe(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", c.cfg.BindAddr, c.cfg.Port)
	c.logger.Info("[SIPClient] Starting SIP listener", "addr", listenAddr)
	return c.srv.ListenAndServe(ctx, "udp", listenAddr)
}

// emit holds the read lock across the send so Close cannot close the events
// channel underneath an in-flight sender such as watchDial.
func (c *Client) emit(ev signaling.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("[SIPClient] Event dropped: buffer full", "event", fmt.Sprintf("%T", ev))
	}
}

// --- Inbound request handlers ---

func (c *Client) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	wireID := callIDOf(req)
	if wireID == "" {
		resp := sip.NewResponseFromRequest(req, 400, "Missing Call-ID", nil)
		if err := tx.Respond(resp); err != nil {
			c.logger.Error("[SIPClient] Respond failed", "error", err)
		}
		return
	}
	id := call.NormalizeID(wireID)

	from := ""
	if f := req.From(); f != nil {
		from = f.Address.User
	}

	// A push may have announced this call already. Attach the wire INVITE to
	// the synthesized entry instead of announcing twice.
	if p, ok := c.pending.Get(id); ok && p.pushOnly {
		c.attachWireInvite(id, p, req, tx, from)
		c.respondRinging(req, tx)
		c.logger.Info("[SIPClient] Wire invite matched push", "call_id", id)
		return
	}
	if c.pending.Has(id) {
		c.logger.Warn("[SIPClient] Duplicate INVITE", "call_id", id)
		return
	}

	p := &pendingInvite{
		from: from,
		req:  req,
		tx:   tx,
		wire: make(chan struct{}),
	}
	close(p.wire)
	c.pending.Set(id, p, c.cfg.PendingTTL)

	c.respondRinging(req, tx)
	c.logger.Info("[SIPClient] Incoming INVITE", "call_id", id, "from", from)
	c.emit(signaling.InviteEvent{ID: id, From: from})
}

// attachWireInvite publishes a fresh pending entry carrying the wire INVITE
// for a push-announced call, then releases waiters blocked on the wire
// channel. Pending entries are never mutated after publication, so readers in
// Answer and Reject always see a complete snapshot; the store's lock orders
// the Set against their Get.
func (c *Client) attachWireInvite(id string, p *pendingInvite, req *sip.Request, tx sip.ServerTransaction, from string) {
	attached := &pendingInvite{
		from: p.from,
		req:  req,
		tx:   tx,
		wire: p.wire,
	}
	if attached.from == "" {
		attached.from = from
	}
	c.pending.Set(id, attached, c.cfg.PendingTTL)
	close(p.wire)
}

func (c *Client) respondRinging(req *sip.Request, tx sip.ServerTransaction) {
	resp := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	if err := tx.Respond(resp); err != nil {
		c.logger.Error("[SIPClient] Failed to send 180", "error", err)
	}
}

func (c *Client) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	id := call.NormalizeID(callIDOf(req))

	p, ok := c.pending.Get(id)
	if !ok {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(resp); err != nil {
			c.logger.Error("[SIPClient] Respond failed", "error", err)
		}
		return
	}

	resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		c.logger.Error("[SIPClient] Failed to respond to CANCEL", "error", err)
	}
	if p.req != nil && p.tx != nil {
		terminated := sip.NewResponseFromRequest(p.req, 487, "Request Terminated", nil)
		if err := p.tx.Respond(terminated); err != nil {
			c.logger.Error("[SIPClient] Failed to send 487", "call_id", id, "error", err)
		}
	}
	c.pending.Delete(id)

	c.logger.Info("[SIPClient] Invite cancelled by caller", "call_id", id)
	c.emit(signaling.InviteCancelEvent{ID: id, Reason: call.EndReasonCancelled})
}

func (c *Client) onBye(req *sip.Request, tx sip.ServerTransaction) {
	id := call.NormalizeID(callIDOf(req))

	c.mu.Lock()
	ac, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()

	if !ok {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(resp); err != nil {
			c.logger.Error("[SIPClient] Respond failed", "error", err)
		}
		return
	}

	ac.mu.Lock()
	session := ac.session
	ac.mu.Unlock()

	if session != nil {
		if err := session.ReadBye(req, tx); err != nil {
			c.logger.Error("[SIPClient] ReadBye failed", "call_id", id, "error", err)
		}
	} else {
		resp := sip.NewResponseFromRequest(req, 200, "OK", nil)
		if err := tx.Respond(resp); err != nil {
			c.logger.Error("[SIPClient] Respond failed", "error", err)
		}
	}

	c.logger.Info("[SIPClient] Remote hangup", "call_id", id)
	c.emit(signaling.HangupEvent{ID: id, Reason: call.EndReasonNormal})
}

func (c *Client) onAck(req *sip.Request, tx sip.ServerTransaction) {
	id := call.NormalizeID(callIDOf(req))

	c.mu.RLock()
	ac, ok := c.active[id]
	c.mu.RUnlock()
	if !ok {
		return
	}

	ac.mu.Lock()
	session := ac.session
	ac.mu.Unlock()
	if session != nil {
		if err := session.ReadAck(req, tx); err != nil {
			c.logger.Debug("[SIPClient] ReadAck failed", "call_id", id, "error", err)
		}
	}
}

func (c *Client) onPendingExpired(id string, p *pendingInvite) {
	if p.req != nil && p.tx != nil {
		resp := sip.NewResponseFromRequest(p.req, 487, "Request Terminated", nil)
		if err := p.tx.Respond(resp); err != nil {
			c.logger.Debug("[SIPClient] Expiry 487 failed", "call_id", id, "error", err)
		}
	}
	c.logger.Info("[SIPClient] Pending invite expired", "call_id", id)
	c.emit(signaling.InviteCancelEvent{ID: id, Reason: call.EndReasonTimeout})
}

// --- Session lifecycle ---

// CreateSession verifies backend reachability and activates the session.
// Idempotent: an existing session is refreshed, not duplicated.
func (c *Client) CreateSession(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("create session: empty token")
	}

	if err := c.pingBackend(ctx); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	id := c.sessionID
	c.mu.Unlock()

	c.logger.Info("[SIPClient] Session established", "session_id", id)
	return id, nil
}

// DeleteSession deactivates the session. Active calls are hung up first so
// the backend does not keep ghost dialogs.
func (c *Client) DeleteSession(ctx context.Context) error {
	c.mu.Lock()
	c.sessionID = ""
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.Hangup(ctx, id); err != nil {
			c.logger.Warn("[SIPClient] Hangup during session teardown failed",
				"call_id", id, "error", err)
		}
	}
	c.logger.Info("[SIPClient] Session deleted")
	return nil
}

// pingBackend sends an OPTIONS request to the backend. Any response proves
// the signaling path works.
func (c *Client) pingBackend(ctx context.Context) error {
	req := sip.NewRequest(sip.OPTIONS, c.backendURI(""))
	c.decorateRequest(req, sip.OPTIONS, uuid.NewString(), uuid.NewString()[:8], 1)
	req.SetDestination(c.cfg.BackendAddr)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := c.uac.TransactionRequest(pingCtx, req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer tx.Terminate()

	select {
	case resp := <-tx.Responses():
		if resp == nil {
			return fmt.Errorf("backend closed transaction without response")
		}
		return nil
	case <-tx.Done():
		return fmt.Errorf("backend did not respond")
	case <-pingCtx.Done():
		return pingCtx.Err()
	}
}

// --- Outbound calls ---

// Dial originates a call. It returns once the backend accepted the INVITE
// transaction; ringing and answer progress arrive as leg events.
func (c *Client) Dial(ctx context.Context, params signaling.DialParams) (string, error) {
	c.mu.RLock()
	session := c.sessionID
	c.mu.RUnlock()
	if session == "" {
		return "", fmt.Errorf("dial: no active session")
	}

	wireID := uuid.NewString()
	id := call.NormalizeID(wireID)
	localTag := uuid.NewString()[:8]

	sdpBody, err := buildSDP(c.cfg.MediaAddr, c.cfg.MediaPort, c.cfg.Codecs)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, c.backendURI(params.To))
	c.decorateRequest(invite, sip.INVITE, wireID, localTag, 1)
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(sdpBody)
	invite.SetDestination(c.cfg.BackendAddr)

	tx, err := c.uac.TransactionRequest(ctx, invite)
	if err != nil {
		return "", fmt.Errorf("dial: send INVITE: %w", err)
	}

	ac := &activeCall{
		dlg: &dialogState{
			wireID:    wireID,
			target:    invite.Recipient,
			localURI:  c.localURI(),
			remoteURI: invite.Recipient,
			localTag:  localTag,
			cseq:      1,
		},
	}
	c.mu.Lock()
	c.active[id] = ac
	c.mu.Unlock()

	c.logger.Info("[SIPClient] INVITE sent", "call_id", id, "to", params.To)
	go c.watchDial(id, ac, invite, tx)
	return id, nil
}

// watchDial consumes the INVITE transaction responses and turns them into
// leg events.
func (c *Client) watchDial(id string, ac *activeCall, invite *sip.Request, tx sip.ClientTransaction) {
	timer := time.NewTimer(c.cfg.DialTimeout)
	defer timer.Stop()
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				c.failDial(id, call.EndReasonError)
				return
			}
			code := int(resp.StatusCode)
			switch {
			case code == 100:
				c.logger.Debug("[SIPClient] 100 Trying", "call_id", id)

			case code == 180 || code == 181 || code == 183:
				c.logger.Info("[SIPClient] Remote ringing", "call_id", id, "status", code)
				c.emit(signaling.LegStatusEvent{ID: id, Status: signaling.LegRinging})

			case code >= 200 && code < 300:
				c.completeDial(id, ac, invite, resp)
				return

			case code >= 300:
				c.logger.Info("[SIPClient] Dial rejected",
					"call_id", id, "status", code, "reason", resp.Reason)
				c.failDial(id, endReasonForStatus(code))
				return
			}

		case <-timer.C:
			c.logger.Warn("[SIPClient] Dial timed out", "call_id", id)
			c.cancelInvite(invite)
			c.failDial(id, call.EndReasonTimeout)
			return

		case <-tx.Done():
			c.failDial(id, call.EndReasonError)
			return
		}
	}
}

func (c *Client) completeDial(id string, ac *activeCall, invite *sip.Request, resp *sip.Response) {
	ac.mu.Lock()
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			ac.dlg.remoteTag = tag
		}
	}
	if contact := resp.Contact(); contact != nil {
		ac.dlg.target = contact.Address
	}
	ac.mu.Unlock()

	if err := c.sendACK(invite, resp); err != nil {
		c.logger.Error("[SIPClient] ACK failed", "call_id", id, "error", err)
		// The 200 stands; the call is answered regardless.
	}

	c.logger.Info("[SIPClient] Outbound call answered", "call_id", id)
	c.emit(signaling.LegStatusEvent{ID: id, Status: signaling.LegAnswered})
}

func (c *Client) failDial(id string, reason call.EndReason) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
	c.emit(signaling.HangupEvent{ID: id, Reason: reason})
}

func endReasonForStatus(code int) call.EndReason {
	switch code {
	case 486, 603:
		return call.EndReasonDeclined
	case 408, 480:
		return call.EndReasonTimeout
	default:
		return call.EndReasonFailed
	}
}

// sendACK acknowledges a 2xx. ACK for 2xx is a standalone request sent
// straight through the transport, not part of the INVITE transaction.
func (c *Client) sendACK(invite *sip.Request, resp *sip.Response) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	ack.SetDestination(c.cfg.BackendAddr)

	return c.uac.WriteRequest(ack)
}

// cancelInvite sends CANCEL for an in-progress INVITE.
func (c *Client) cancelInvite(invite *sip.Request) {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.CANCEL,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)
	cancelReq.SetDestination(c.cfg.BackendAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := c.uac.TransactionRequest(ctx, cancelReq)
	if err != nil {
		c.logger.Warn("[SIPClient] CANCEL failed", "error", err)
		return
	}
	defer tx.Terminate()
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
}

// --- Call actions ---

// Answer accepts a pending inbound call. For a push-announced call whose
// wire INVITE has not arrived yet, it waits up to PushWait before giving up.
func (c *Client) Answer(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	p, ok := c.pending.Get(id)
	if !ok {
		return fmt.Errorf("answer %s: %w", id, signaling.ErrUnknownCall)
	}

	if p.pushOnly {
		timer := time.NewTimer(c.cfg.PushWait)
		defer timer.Stop()
		select {
		case <-p.wire:
		case <-timer.C:
			return fmt.Errorf("answer %s: invite not received over signaling connection", id)
		case <-ctx.Done():
			return ctx.Err()
		}
		// Reload: the invite handler swapped the entry contents.
		if p, ok = c.pending.Get(id); !ok {
			return fmt.Errorf("answer %s: %w", id, signaling.ErrUnknownCall)
		}
	}

	session, err := c.dialogUA.ReadInvite(p.req, p.tx)
	if err != nil {
		return fmt.Errorf("answer %s: read invite: %w", id, err)
	}

	sdpBody, err := buildSDP(c.cfg.MediaAddr, c.cfg.MediaPort, c.cfg.Codecs)
	if err != nil {
		return fmt.Errorf("answer %s: %w", id, err)
	}
	if err := session.RespondSDP(sdpBody); err != nil {
		return fmt.Errorf("answer %s: respond: %w", id, err)
	}

	ac := &activeCall{
		inbound: true,
		session: session,
		dlg:     inboundDialogState(p.req, session.InviteResponse),
	}
	c.mu.Lock()
	c.active[id] = ac
	c.mu.Unlock()
	c.pending.Delete(id)

	c.logger.Info("[SIPClient] Inbound call answered", "call_id", id)
	c.emit(signaling.LegStatusEvent{ID: id, Status: signaling.LegAnswered})
	return nil
}

// Reject declines a pending inbound call with 603. No event is emitted; the
// caller owns the resulting state change.
func (c *Client) Reject(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	p, ok := c.pending.Get(id)
	if !ok {
		return fmt.Errorf("reject %s: %w", id, signaling.ErrUnknownCall)
	}

	if p.req != nil && p.tx != nil {
		resp := sip.NewResponseFromRequest(p.req, 603, "Decline", nil)
		if err := p.tx.Respond(resp); err != nil {
			return fmt.Errorf("reject %s: %w", id, err)
		}
	}
	c.pending.Delete(id)
	c.logger.Info("[SIPClient] Inbound call rejected", "call_id", id)
	return nil
}

// Hangup terminates an active call with BYE. The resulting hangup event
// closes the loop for call state.
func (c *Client) Hangup(ctx context.Context, id string) error {
	id = call.NormalizeID(id)

	c.mu.Lock()
	ac, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("hangup %s: %w", id, signaling.ErrUnknownCall)
	}

	ac.mu.Lock()
	session := ac.session
	dlg := ac.dlg
	ac.mu.Unlock()

	var err error
	if session != nil {
		err = session.Bye(ctx)
	} else if dlg != nil && dlg.remoteTag != "" {
		_, err = c.sendInDialog(ctx, sip.BYE, dlg, "", nil)
	}
	if err != nil {
		c.logger.Warn("[SIPClient] BYE failed", "call_id", id, "error", err)
	}

	c.logger.Info("[SIPClient] Call hung up", "call_id", id)
	c.emit(signaling.HangupEvent{ID: id, Reason: call.EndReasonNormal})
	return nil
}

// Mute silences the local media leg. Mute is a local media property, so the
// confirmation event is emitted immediately.
func (c *Client) Mute(ctx context.Context, id string) error {
	return c.setMuted(id, true)
}

// Unmute reverses Mute.
func (c *Client) Unmute(ctx context.Context, id string) error {
	return c.setMuted(id, false)
}

func (c *Client) setMuted(id string, muted bool) error {
	id = call.NormalizeID(id)
	c.mu.RLock()
	ac, ok := c.active[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mute %s: %w", id, signaling.ErrUnknownCall)
	}

	ac.mu.Lock()
	changed := ac.muted != muted
	ac.muted = muted
	ac.mu.Unlock()

	if changed {
		c.emit(signaling.MuteChangedEvent{ID: id, Muted: muted})
	}
	return nil
}

// Reconnect re-establishes media for a call. Outbound dialogs get a
// re-INVITE; for inbound dialogs the media path restarts locally.
func (c *Client) Reconnect(ctx context.Context, id string) error {
	id = call.NormalizeID(id)
	c.mu.RLock()
	ac, ok := c.active[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("reconnect %s: %w", id, signaling.ErrUnknownCall)
	}

	c.emit(signaling.MediaReconnectingEvent{ID: id})

	go func() {
		ac.mu.Lock()
		inbound := ac.inbound
		dlg := ac.dlg
		ac.mu.Unlock()

		if !inbound && dlg != nil && dlg.remoteTag != "" {
			sdpBody, err := buildSDP(c.cfg.MediaAddr, c.cfg.MediaPort, c.cfg.Codecs)
			if err == nil {
				reCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := c.sendInDialog(reCtx, sip.INVITE, dlg, "application/sdp", sdpBody); err != nil {
					c.logger.Warn("[SIPClient] Re-INVITE failed", "call_id", id, "error", err)
					c.failDial(id, call.EndReasonError)
					return
				}
			}
		}
		c.logger.Info("[SIPClient] Media reconnected", "call_id", id)
		c.emit(signaling.MediaReconnectedEvent{ID: id})
	}()
	return nil
}

// EnableNoiseSuppression turns on noise suppression for a call. It is a
// local media processing flag.
func (c *Client) EnableNoiseSuppression(ctx context.Context, id string) error {
	return c.setNoiseSuppression(id, true)
}

// DisableNoiseSuppression reverses EnableNoiseSuppression.
func (c *Client) DisableNoiseSuppression(ctx context.Context, id string) error {
	return c.setNoiseSuppression(id, false)
}

func (c *Client) setNoiseSuppression(id string, enabled bool) error {
	id = call.NormalizeID(id)
	c.mu.RLock()
	ac, ok := c.active[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("noise suppression %s: %w", id, signaling.ErrUnknownCall)
	}
	ac.mu.Lock()
	ac.noiseSuppressed = enabled
	ac.mu.Unlock()
	return nil
}

// SendDTMF plays digits into a call via SIP INFO, one request per digit.
func (c *Client) SendDTMF(ctx context.Context, id, digits string) error {
	id = call.NormalizeID(id)
	c.mu.RLock()
	ac, ok := c.active[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send dtmf %s: %w", id, signaling.ErrUnknownCall)
	}

	ac.mu.Lock()
	dlg := ac.dlg
	ac.mu.Unlock()
	if dlg == nil {
		return fmt.Errorf("send dtmf %s: no dialog state", id)
	}

	for _, digit := range digits {
		body := []byte(fmt.Sprintf("Signal=%c\r\nDuration=250\r\n", digit))
		if _, err := c.sendInDialog(ctx, sip.INFO, dlg, "application/dtmf-relay", body); err != nil {
			return fmt.Errorf("send dtmf %s: %w", id, err)
		}
	}
	c.logger.Debug("[SIPClient] DTMF sent", "call_id", id, "digits", len(digits))
	return nil
}

// ProcessPushInvite surfaces a push-announced inbound call. When the wire
// INVITE already arrived the push is a duplicate and ignored; otherwise a
// placeholder invite is synthesized so the call can ring before the
// signaling connection catches up.
func (c *Client) ProcessPushInvite(ctx context.Context, payload []byte) error {
	invite, err := signaling.ParsePushInvite(payload)
	if err != nil {
		return err
	}
	if invite.CallID == "" {
		// Nothing to correlate; the wire INVITE will announce the call.
		c.logger.Debug("[SIPClient] Push without call id, waiting for wire invite")
		return nil
	}

	id := call.NormalizeID(invite.CallID)
	if c.pending.Has(id) {
		c.logger.Debug("[SIPClient] Push duplicates wire invite", "call_id", id)
		return nil
	}
	c.mu.RLock()
	_, isActive := c.active[id]
	c.mu.RUnlock()
	if isActive {
		return nil
	}

	p := &pendingInvite{
		from:     invite.From,
		wire:     make(chan struct{}),
		pushOnly: true,
	}
	c.pending.Set(id, p, c.cfg.PendingTTL)

	c.logger.Info("[SIPClient] Push invite surfaced", "call_id", id, "from", invite.From)
	c.emit(signaling.InviteEvent{ID: id, From: invite.From})
	return nil
}

// Events returns the event stream. Closed by Close.
func (c *Client) Events() <-chan signaling.Event {
	return c.events
}

// Close releases all resources. In-flight calls are dropped without BYE;
// callers wanting graceful teardown use DeleteSession first.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.pending.Close()
	return c.ua.Close()
}

// --- Helpers ---

func callIDOf(req *sip.Request) string {
	if req.CallID() == nil {
		return ""
	}
	return string(*req.CallID())
}

func (c *Client) localURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   c.cfg.Identity,
		Host:   c.cfg.AdvertiseAddr,
		Port:   c.cfg.Port,
	}
}

func (c *Client) backendURI(user string) sip.Uri {
	host := c.cfg.BackendHost
	if host == "" {
		host = c.cfg.BackendAddr
	}
	return sip.Uri{
		Scheme: "sip",
		User:   user,
		Host:   host,
	}
}

// decorateRequest appends the headers every out-of-dialog request needs.
func (c *Client) decorateRequest(req *sip.Request, method sip.RequestMethod, wireID, localTag string, cseq uint32) {
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	req.AppendHeader(&sip.FromHeader{
		Address: c.localURI(),
		Params:  fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: req.Recipient,
		Params:  sip.NewParams(),
	})

	callID := sip.CallIDHeader(wireID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      cseq,
		MethodName: method,
	})
	req.AppendHeader(&sip.ContactHeader{Address: c.localURI()})
}

// inboundDialogState derives in-dialog routing from the INVITE we answered
// and the 200 we sent.
func inboundDialogState(invite *sip.Request, resp *sip.Response) *dialogState {
	dlg := &dialogState{
		wireID: callIDOf(invite),
		cseq:   0,
	}
	if from := invite.From(); from != nil {
		dlg.remoteURI = from.Address
		if tag, ok := from.Params.Get("tag"); ok {
			dlg.remoteTag = tag
		}
	}
	if to := invite.To(); to != nil {
		dlg.localURI = to.Address
	}
	if contact := invite.Contact(); contact != nil {
		dlg.target = contact.Address
	} else {
		dlg.target = dlg.remoteURI
	}
	if resp != nil {
		if to := resp.To(); to != nil {
			if tag, ok := to.Params.Get("tag"); ok {
				dlg.localTag = tag
			}
		}
	}
	return dlg
}

// sendInDialog issues an in-dialog request and waits for its final response.
func (c *Client) sendInDialog(ctx context.Context, method sip.RequestMethod, dlg *dialogState, contentType string, body []byte) (*sip.Response, error) {
	req := sip.NewRequest(method, dlg.target)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", dlg.localTag)
	req.AppendHeader(&sip.FromHeader{
		Address: dlg.localURI,
		Params:  fromParams,
	})

	toParams := sip.NewParams()
	if dlg.remoteTag != "" {
		toParams.Add("tag", dlg.remoteTag)
	}
	req.AppendHeader(&sip.ToHeader{
		Address: dlg.remoteURI,
		Params:  toParams,
	})

	callID := sip.CallIDHeader(dlg.wireID)
	req.AppendHeader(&callID)

	dlg.cseq++
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      dlg.cseq,
		MethodName: method,
	})

	if contentType != "" {
		ct := sip.ContentTypeHeader(contentType)
		req.AppendHeader(&ct)
		req.SetBody(body)
	}

	port := dlg.target.Port
	if port == 0 {
		port = 5060
	}
	req.SetDestination(fmt.Sprintf("%s:%d", dlg.target.Host, port))

	tx, err := c.uac.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("%s: transaction ended without response", method)
			}
			if resp.StatusCode < 200 {
				continue
			}
			if resp.StatusCode >= 300 {
				return resp, fmt.Errorf("%s rejected: %d %s", method, resp.StatusCode, resp.Reason)
			}
			if method == sip.INVITE {
				ack := sip.NewAckRequest(req, resp, nil)
				ack.SetDestination(req.Destination())
				if err := c.uac.WriteRequest(ack); err != nil {
					c.logger.Warn("[SIPClient] Re-INVITE ACK failed", "error", err)
				}
			}
			return resp, nil
		case <-tx.Done():
			return nil, fmt.Errorf("%s: transaction terminated", method)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
