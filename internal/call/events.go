package call

import (
	"encoding/json"

	"github.com/petervdpas/goopcall/internal/media"
	"github.com/pion/webrtc/v4"
)

// Signaling events exchanged on a pair channel.
const (
	EvCallRequest  = "call-request"
	EvCallAccept   = "call-accept"
	EvCallEnd      = "call-end"
	EvCallBusy     = "call-busy"
	EvCallMetadata = "call-metadata"
	EvOffer        = "webrtc-offer"
	EvAnswer       = "webrtc-answer"
	EvICE          = "webrtc-ice"
	EvRenegotiate  = "webrtc-renegotiate"
)

type CallRequestPayload struct {
	CallerID string   `json:"callerId"`
	Type     CallType `json:"type"`
}

// CallSignalPayload is carried by call-accept, call-end and call-busy.
type CallSignalPayload struct {
	From   string    `json:"from"`
	Reason EndReason `json:"reason,omitempty"`
}

// MetadataPayload carries only the fields that changed.
type MetadataPayload struct {
	From            string `json:"from"`
	Deafened        *bool  `json:"deafened,omitempty"`
	IsScreenSharing *bool  `json:"isScreenSharing,omitempty"`
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
	From  string                    `json:"from"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
	From   string                    `json:"from"`
}

type ICEPayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	From      string                  `json:"from"`
}

// RenegotiatePayload asks the offering side for a fresh offer that covers
// Kinds.
type RenegotiatePayload struct {
	Kinds []media.Kind `json:"kinds"`
	From  string       `json:"from"`
}

// senderOf extracts who sent a payload. call-request names the sender
// callerId; every other event uses from.
func senderOf(raw json.RawMessage) string {
	var h struct {
		From     string `json:"from"`
		CallerID string `json:"callerId"`
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return ""
	}
	if h.From != "" {
		return h.From
	}
	return h.CallerID
}

func boolPtr(b bool) *bool { return &b }
