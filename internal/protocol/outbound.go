package protocol

import "encoding/json"

// Outbound frame builders. Each returns the fully encoded wire frame; the
// relay layer wraps it together with its type into a bus event.

type readyEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	ICEServers   any    `json:"ice_servers,omitempty"`
}

func Ready(connID, userID string, iceServers any) ([]byte, error) {
	return json.Marshal(readyEvent{Type: TypeReady, ConnectionID: connID, UserID: userID, ICEServers: iceServers})
}

type presenceEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func UserOnline(userID string) ([]byte, error) {
	return json.Marshal(presenceEvent{Type: TypeUserOnline, UserID: userID})
}

func UserOffline(userID string) ([]byte, error) {
	return json.Marshal(presenceEvent{Type: TypeUserOffline, UserID: userID})
}

type onlineUsersList struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func OnlineUsersList(users []string) ([]byte, error) {
	if users == nil {
		users = []string{}
	}
	return json.Marshal(onlineUsersList{Type: TypeOnlineUsersList, Users: users, Count: len(users)})
}

type incomingCall struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	CallerID string `json:"caller_id"`
	CallType string `json:"call_type"`
}

func IncomingCall(callID, callerID, callType string) ([]byte, error) {
	return json.Marshal(incomingCall{Type: TypeIncomingCall, CallID: callID, CallerID: callerID, CallType: callType})
}

type callEvent struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

func CallAnswered(callID string) ([]byte, error) {
	return json.Marshal(callEvent{Type: TypeCallAnswered, CallID: callID})
}

func CallRejected(callID string) ([]byte, error) {
	return json.Marshal(callEvent{Type: TypeCallRejected, CallID: callID})
}

func CallAnsweredElsewhere(callID string) ([]byte, error) {
	return json.Marshal(callEvent{Type: TypeCallAnsweredElsewhere, CallID: callID})
}

func CallRejectedElsewhere(callID string) ([]byte, error) {
	return json.Marshal(callEvent{Type: TypeCallRejectedElsewhere, CallID: callID})
}

type callEnded struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason,omitempty"`
}

// CallEnded carries the authoritative duration in whole seconds, matching
// what lands in the finalized-call record.
func CallEnded(callID string, durationSeconds int, reason string) ([]byte, error) {
	return json.Marshal(callEnded{Type: TypeCallEnded, CallID: callID, Duration: durationSeconds, Reason: reason})
}

type webrtcSignal struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_id"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func ForwardedOffer(callID string, offer json.RawMessage) ([]byte, error) {
	return json.Marshal(webrtcSignal{Type: TypeWebRTCOffer, CallID: callID, Offer: offer})
}

func ForwardedAnswer(callID string, answer json.RawMessage) ([]byte, error) {
	return json.Marshal(webrtcSignal{Type: TypeWebRTCAnswer, CallID: callID, Answer: answer})
}

func ForwardedICECandidate(callID string, candidate json.RawMessage) ([]byte, error) {
	return json.Marshal(webrtcSignal{Type: TypeWebRTCICECandidate, CallID: callID, Candidate: candidate})
}

type typingEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func TypingEvent(typ, fromUserID string) ([]byte, error) {
	return json.Marshal(typingEvent{Type: typ, UserID: fromUserID})
}

type readReceiptEvent struct {
	Type       string   `json:"type"`
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

func ReadReceiptEvent(fromUserID string, messageIDs []string) ([]byte, error) {
	return json.Marshal(readReceiptEvent{Type: TypeReadReceipt, UserID: fromUserID, MessageIDs: messageIDs})
}

type channelEvent struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

func ChannelEvent(channel, fromUserID string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(channelEvent{Type: TypeChannelEvent, Channel: channel, From: fromUserID, Payload: payload})
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	CallID  string `json:"call_id,omitempty"`
}

func ErrorEvent(code, message, callID string) ([]byte, error) {
	return json.Marshal(errorEvent{Type: TypeError, Code: code, Message: message, CallID: callID})
}
