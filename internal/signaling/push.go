package signaling

import (
	"encoding/json"
	"fmt"
)

// pushEnvelope matches the backend's push payload shape. The caller number
// sits deep in the envelope; the call id travels alongside the channel data.
type pushEnvelope struct {
	Nexmo struct {
		Body struct {
			Channel struct {
				ID   string `json:"id"`
				From struct {
					Number string `json:"number"`
				} `json:"from"`
			} `json:"channel"`
		} `json:"body"`
	} `json:"nexmo"`
}

// PushInvite is the minimal information extracted from a push payload.
type PushInvite struct {
	// CallID may be empty; some backends only deliver it with the
	// follow-up invite over the signaling connection.
	CallID string
	// From is the caller number.
	From string
}

// ParsePushInvite decodes a push payload. It fails when the envelope cannot
// be decoded or carries no caller number, in which case the push cannot be
// reported as a call at all.
func ParsePushInvite(payload []byte) (PushInvite, error) {
	var env pushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PushInvite{}, fmt.Errorf("decode push payload: %w", err)
	}
	if env.Nexmo.Body.Channel.From.Number == "" {
		return PushInvite{}, fmt.Errorf("push payload carries no caller number")
	}
	return PushInvite{
		CallID: env.Nexmo.Body.Channel.ID,
		From:   env.Nexmo.Body.Channel.From.Number,
	}, nil
}
