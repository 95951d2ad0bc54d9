package call

import (
	"testing"
	"time"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusRinging, "ringing"},
		{StatusAnswered, "answered"},
		{StatusReconnecting, "reconnecting"},
		{StatusCompleted, "completed"},
		{Status(99), "unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"ringing to answered", StatusRinging, StatusAnswered, true},
		{"ringing to completed", StatusRinging, StatusCompleted, true},
		{"ringing to reconnecting", StatusRinging, StatusReconnecting, false},
		{"answered to reconnecting", StatusAnswered, StatusReconnecting, true},
		{"answered to completed", StatusAnswered, StatusCompleted, true},
		{"answered to ringing", StatusAnswered, StatusRinging, false},
		{"reconnecting to answered", StatusReconnecting, StatusAnswered, true},
		{"reconnecting to completed", StatusReconnecting, StatusCompleted, true},
		{"completed to answered", StatusCompleted, StatusAnswered, false},
		{"completed to ringing", StatusCompleted, StatusRinging, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v",
					tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if StatusCompleted.IsTerminal() != true {
		t.Error("StatusCompleted should be terminal")
	}
	for _, s := range []Status{StatusRinging, StatusAnswered, StatusReconnecting} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABC-1", "abc-1"},
		{"abc-1", "abc-1"},
		{"  CALL-42  ", "call-42"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWithStartedAtSetOnce(t *testing.T) {
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Second)

	rec := NewInbound("Call-1", "+15550001111")
	if rec.Started() {
		t.Fatal("fresh record should have no start time")
	}

	rec = rec.WithStartedAt(first)
	if !rec.StartedAt.Equal(first) {
		t.Fatalf("StartedAt = %v, want %v", rec.StartedAt, first)
	}

	// A second set, as happens after a reconnect cycle, is a no-op.
	rec = rec.WithStartedAt(second)
	if !rec.StartedAt.Equal(first) {
		t.Errorf("StartedAt = %v, want original %v", rec.StartedAt, first)
	}
}

func TestRecordCopyOnWrite(t *testing.T) {
	orig := NewOutbound("call-2", "+15550002222")
	updated := orig.WithStatus(StatusAnswered)

	if orig.Status != StatusRinging {
		t.Errorf("original status mutated to %s", orig.Status)
	}
	if updated.Status != StatusAnswered {
		t.Errorf("updated status = %s, want answered", updated.Status)
	}
}

func TestNewInboundNormalizesID(t *testing.T) {
	rec := NewInbound("MIXED-Case-ID", "+15550003333")
	if rec.ID != "mixed-case-id" {
		t.Errorf("ID = %q, want normalized", rec.ID)
	}
	if rec.Direction != DirectionInbound {
		t.Errorf("Direction = %s, want inbound", rec.Direction)
	}
	if rec.Status != StatusRinging {
		t.Errorf("Status = %s, want ringing", rec.Status)
	}
}
