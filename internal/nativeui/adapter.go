// Package nativeui defines the boundary to the OS telephony UI (CallKit,
// ConnectionService). Platform bindings implement Adapter outside the core;
// the core only ever calls it after the call store has been updated.
package nativeui

import (
	"log/slog"

	"github.com/voxline/callbridge/internal/call"
)

// Adapter reports call lifecycle changes to the native telephony UI.
// User actions taken on that UI (answer, reject, hangup, mute) flow back
// into the gateway, not through this interface.
type Adapter interface {
	// ReportNewIncomingCall registers a ringing inbound call with the OS.
	// The OS may refuse (restricted mode, duplicate id).
	ReportNewIncomingCall(id, callerHandle string) error
	// ReportOutgoingCallStarted marks an outbound call as dialing.
	ReportOutgoingCallStarted(id string)
	// ReportOutgoingCallConnected marks an outbound call as answered.
	ReportOutgoingCallConnected(id string)
	// ReportCallEnded removes the call from the OS UI. Every call reported
	// to the OS must eventually receive this, an OS requirement.
	ReportCallEnded(id string, reason call.EndReason)
}

// LogAdapter is the headless implementation used by the daemon and tests.
type LogAdapter struct{}

// NewLogAdapter creates an adapter that only logs reports.
func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

func (a *LogAdapter) ReportNewIncomingCall(id, callerHandle string) error {
	slog.Info("[NativeUI] Incoming call", "call_id", id, "from", callerHandle)
	return nil
}

func (a *LogAdapter) ReportOutgoingCallStarted(id string) {
	slog.Info("[NativeUI] Outgoing call started", "call_id", id)
}

func (a *LogAdapter) ReportOutgoingCallConnected(id string) {
	slog.Info("[NativeUI] Outgoing call connected", "call_id", id)
}

func (a *LogAdapter) ReportCallEnded(id string, reason call.EndReason) {
	slog.Info("[NativeUI] Call ended", "call_id", id, "reason", reason)
}
