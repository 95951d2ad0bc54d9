package sipclient

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// buildSDP creates the session description advertised in our INVITEs and
// answers. Media negotiation beyond codec selection happens downstream; the
// client only needs a well-formed audio offer.
func buildSDP(mediaAddr string, mediaPort int, codecs []string) ([]byte, error) {
	if len(codecs) == 0 {
		codecs = []string{"0"}
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "callbridge",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: mediaAddr,
		},
		SessionName: "Callbridge Audio Session",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &sdp.Address{
				Address: mediaAddr,
			},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: mediaPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: codecs,
				},
				Attributes: codecAttributes(codecs),
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sdp: %w", err)
	}
	return body, nil
}

func codecAttributes(formats []string) []sdp.Attribute {
	rtpmapMap := map[string]string{
		"0":   "PCMU/8000",
		"8":   "PCMA/8000",
		"101": "telephone-event/8000",
	}

	attrs := []sdp.Attribute{}
	for _, format := range formats {
		if rtpmap, ok := rtpmapMap[format]; ok {
			attrs = append(attrs, sdp.Attribute{
				Key:   "rtpmap",
				Value: format + " " + rtpmap,
			})
		}
	}
	for _, format := range formats {
		if format == "101" {
			attrs = append(attrs, sdp.Attribute{
				Key:   "fmtp",
				Value: "101 0-15",
			})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "ptime", Value: "20"})
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})
	return attrs
}
