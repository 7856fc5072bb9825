// Package protocol models the wire surface of the signaling core: the typed
// JSON events exchanged with clients over the persistent connection.
//
// It intentionally depends on nothing but the standard library; this package
// describes the protocol, not the implementation.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event types (client -> server).
const (
	TypeAuthenticate       = "authenticate"
	TypeCallInitiate       = "call_initiate"
	TypeCallAnswer         = "call_answer"
	TypeCallReject         = "call_reject"
	TypeCallEnd            = "call_end"
	TypeWebRTCOffer        = "webrtc_offer"
	TypeWebRTCAnswer       = "webrtc_answer"
	TypeWebRTCICECandidate = "webrtc_ice_candidate"
	TypeTypingStart        = "typing_start"
	TypeTypingStop         = "typing_stop"
	TypeReadReceipt        = "read_receipt"
	TypeGetOnlineUsers     = "get_online_users"
	TypeJoinChannel        = "join_channel"
	TypeLeaveChannel       = "leave_channel"
	TypeChannelPublish     = "channel_publish"
)

// Outbound event types (server -> client).
const (
	TypeReady                 = "ready"
	TypeUserOnline            = "user_online"
	TypeUserOffline           = "user_offline"
	TypeIncomingCall          = "incoming_call"
	TypeCallAnswered          = "call_answered"
	TypeCallRejected          = "call_rejected"
	TypeCallEnded             = "call_ended"
	TypeCallAnsweredElsewhere = "call_answered_elsewhere"
	TypeCallRejectedElsewhere = "call_rejected_elsewhere"
	TypeOnlineUsersList       = "online_users_list"
	TypeChannelEvent          = "channel_event"
	TypeError                 = "error"
)

// Error codes carried on the outbound error event.
const (
	CodeProtocolError   = "protocol_error"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodeNotCallee       = "not_callee"
	CodeNotParticipant  = "not_participant"
	CodeInvalidState    = "invalid_state"
	CodeDuplicateCallID = "duplicate_call_id"
	CodeCalleeOffline   = "callee_offline"
)

var (
	ErrUnknownType       = errors.New("protocol: unknown event type")
	errMissingType       = errors.New("protocol: missing event type")
	errMissingIdentity   = errors.New("protocol: missing identity")
	errMissingCallID     = errors.New("protocol: missing call_id")
	errMissingCalleeID   = errors.New("protocol: missing callee_id")
	errInvalidCallType   = errors.New("protocol: invalid call_type")
	errMissingTarget     = errors.New("protocol: missing target")
	errMissingChannel    = errors.New("protocol: missing channel")
	errMissingPayload    = errors.New("protocol: missing payload")
	errMissingMessageIDs = errors.New("protocol: missing message_ids")
)

// DecodeType extracts the type discriminator from a raw inbound frame.
func DecodeType(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if env.Type == "" {
		return "", errMissingType
	}
	return env.Type, nil
}

// Authenticate binds the connection to an identity. In jwt auth mode Token
// carries the credential and Identity is ignored; in none mode the declared
// Identity is trusted.
type Authenticate struct {
	Identity string `json:"identity,omitempty"`
	Token    string `json:"token,omitempty"`
}

func (m Authenticate) Validate() error {
	if m.Identity == "" && m.Token == "" {
		return errMissingIdentity
	}
	return nil
}

type CallInitiate struct {
	CallID   string `json:"call_id"`
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"`
}

func (m CallInitiate) Validate() error {
	if m.CallID == "" {
		return errMissingCallID
	}
	if m.CalleeID == "" {
		return errMissingCalleeID
	}
	switch m.CallType {
	case "audio", "video":
		return nil
	}
	return fmt.Errorf("%w: %q", errInvalidCallType, m.CallType)
}

type CallAction struct {
	CallID string `json:"call_id"`
}

func (m CallAction) Validate() error {
	if m.CallID == "" {
		return errMissingCallID
	}
	return nil
}

// WebRTCSignal covers the three negotiation payload kinds. Exactly one of
// Offer/Answer/Candidate is set depending on the event type; the core relays
// the payload verbatim and never inspects it.
type WebRTCSignal struct {
	CallID    string          `json:"call_id"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (m WebRTCSignal) Validate() error {
	if m.CallID == "" {
		return errMissingCallID
	}
	if len(m.Offer) == 0 && len(m.Answer) == 0 && len(m.Candidate) == 0 {
		return errMissingPayload
	}
	return nil
}

// Payload returns whichever negotiation payload the frame carried.
func (m WebRTCSignal) Payload() json.RawMessage {
	switch {
	case len(m.Offer) > 0:
		return m.Offer
	case len(m.Answer) > 0:
		return m.Answer
	default:
		return m.Candidate
	}
}

type Typing struct {
	Target string `json:"target"`
}

func (m Typing) Validate() error {
	if m.Target == "" {
		return errMissingTarget
	}
	return nil
}

type ReadReceipt struct {
	Target     string   `json:"target"`
	MessageIDs []string `json:"message_ids"`
}

func (m ReadReceipt) Validate() error {
	if m.Target == "" {
		return errMissingTarget
	}
	if len(m.MessageIDs) == 0 {
		return errMissingMessageIDs
	}
	return nil
}

type ChannelJoin struct {
	Channel string `json:"channel"`
}

func (m ChannelJoin) Validate() error {
	if m.Channel == "" {
		return errMissingChannel
	}
	return nil
}

type ChannelPublish struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func (m ChannelPublish) Validate() error {
	if m.Channel == "" {
		return errMissingChannel
	}
	if len(m.Payload) == 0 {
		return errMissingPayload
	}
	return nil
}
