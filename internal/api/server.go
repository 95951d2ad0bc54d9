// Package api exposes the daemon's control surface over HTTP: call listing
// and actions for the application UI, push ingress, device registration, and
// a server-sent event stream mirroring the UI bridge.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voxline/callbridge/internal/bootstrap"
	"github.com/voxline/callbridge/internal/call"
	"github.com/voxline/callbridge/internal/devices"
	"github.com/voxline/callbridge/internal/gateway"
	"github.com/voxline/callbridge/internal/uibridge"
)

// Pusher is the slice of the bootstrapper the push endpoint needs.
type Pusher interface {
	HandlePush(ctx context.Context, payload []byte, refresh bootstrap.RefreshFunc) (bootstrap.State, error)
}

// Server provides the HTTP control API.
type Server struct {
	addr       string
	httpServer *http.Server
	store      *call.Store
	gateway    *gateway.Gateway
	bootstrap  Pusher
	refresh    bootstrap.RefreshFunc
	registry   devices.Registry
	events     *uibridge.ChannelEmitter
	dropped    func() int64
	startTime  time.Time

	mu          sync.Mutex
	subscribers map[chan uibridge.Event]struct{}
}

// Config wires the server's collaborators.
type Config struct {
	Addr      string
	Store     *call.Store
	Gateway   *gateway.Gateway
	Bootstrap Pusher
	Refresh   bootstrap.RefreshFunc
	Registry  devices.Registry
	// Events feeds the SSE stream. May be nil; the endpoint then returns 404.
	Events *uibridge.ChannelEmitter
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		addr:        cfg.Addr,
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		bootstrap:   cfg.Bootstrap,
		refresh:     cfg.Refresh,
		registry:    cfg.Registry,
		events:      cfg.Events,
		startTime:   time.Now(),
		subscribers: make(map[chan uibridge.Event]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)
	mux.HandleFunc("/api/v1/calls/", s.handleCallAction)
	mux.HandleFunc("/api/v1/dtmf", s.handleDTMF)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	mux.HandleFunc("/api/v1/push", s.handlePush)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Start begins listening for HTTP requests. When events are wired, a fanout
// goroutine distributes them to SSE subscribers.
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	if s.events != nil {
		go s.fanoutEvents()
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) fanoutEvents() {
	for ev := range s.events.Events() {
		s.mu.Lock()
		for ch := range s.subscribers {
			select {
			case ch <- ev:
			default:
			}
		}
		s.mu.Unlock()
	}
}

// --- Health & stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_calls": s.store.Len(),
	}
	if s.events != nil {
		stats["dropped_events"] = s.events.DroppedCount()
	}
	s.writeJSON(w, stats)
}

// --- Calls ---

type callResponse struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Number    string `json:"counterparty_number"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at,omitempty"`
}

func callToResponse(rec *call.Record) callResponse {
	out := callResponse{
		ID:        rec.ID,
		Direction: rec.Direction.String(),
		Number:    rec.Number,
		Status:    rec.Status.String(),
	}
	if rec.Started() {
		out.StartedAt = rec.StartedAt.Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records := s.store.All()
		response := make([]callResponse, 0, len(records))
		for _, rec := range records {
			response = append(response, callToResponse(rec))
		}
		s.writeJSON(w, response)

	case http.MethodPost:
		var req struct {
			To string `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
			http.Error(w, "destination required", http.StatusBadRequest)
			return
		}
		id, err := s.gateway.Dial(r.Context(), req.To)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		s.writeJSON(w, map[string]string{"id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCallAction routes /api/v1/calls/{id}/{action}.
func (s *Server) handleCallAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/calls/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "call id and action required", http.StatusBadRequest)
		return
	}
	id, action := parts[0], parts[1]

	var err error
	switch action {
	case "answer":
		err = s.gateway.Answer(r.Context(), id)
	case "reject":
		err = s.gateway.Reject(r.Context(), id)
	case "hangup":
		err = s.gateway.Hangup(r.Context(), id)
	case "mute":
		err = s.gateway.SetMuted(r.Context(), id, true)
	case "unmute":
		err = s.gateway.SetMuted(r.Context(), id, false)
	case "reconnect":
		err = s.gateway.Reconnect(r.Context(), id)
	case "noise-on":
		err = s.gateway.SetNoiseSuppression(r.Context(), id, true)
	case "noise-off":
		err = s.gateway.SetNoiseSuppression(r.Context(), id, false)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, gateway.ErrCallNotFound):
			status = http.StatusNotFound
		case errors.Is(err, gateway.ErrNotRinging):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDTMF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Digits string `json:"digits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Digits == "" {
		http.Error(w, "digits required", http.StatusBadRequest)
		return
	}
	if err := s.gateway.SendDTMF(r.Context(), req.Digits); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, gateway.ErrNoActiveCall) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// --- Devices ---

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "device registry not configured", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var d devices.Device
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.DeviceID == "" {
			http.Error(w, "device_id required", http.StatusBadRequest)
			return
		}
		d.UpdatedAt = time.Now()
		if err := s.registry.Save(r.Context(), d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})

	case http.MethodGet:
		id := r.URL.Query().Get("device_id")
		if id == "" {
			http.Error(w, "device_id required", http.StatusBadRequest)
			return
		}
		d, err := s.registry.Load(r.Context(), id)
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, d)

	case http.MethodDelete:
		id := r.URL.Query().Get("device_id")
		if id == "" {
			http.Error(w, "device_id required", http.StatusBadRequest)
			return
		}
		if err := s.registry.Delete(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Push ingress ---

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.bootstrap == nil {
		http.Error(w, "push handling not configured", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "read payload", http.StatusBadRequest)
		return
	}

	state, err := s.bootstrap.HandlePush(r.Context(), payload, s.refresh)
	response := map[string]string{"state": state.String()}
	if err != nil {
		response["error"] = err.Error()
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	s.writeJSON(w, response)
}

// --- Event stream ---

// handleEvents streams UI bridge events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event stream not configured", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan uibridge.Event, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
