package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeType(t *testing.T) {
	typ, err := DecodeType([]byte(`{"type":"call_initiate","call_id":"c"}`))
	if err != nil {
		t.Fatalf("DecodeType: %v", err)
	}
	if typ != TypeCallInitiate {
		t.Fatalf("type=%q, want %q", typ, TypeCallInitiate)
	}

	if _, err := DecodeType([]byte(`{"call_id":"c"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := DecodeType([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestCallInitiate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     CallInitiate
		wantErr bool
	}{
		{"valid audio", CallInitiate{CallID: "call-1", CalleeID: "bob", CallType: "audio"}, false},
		{"valid video", CallInitiate{CallID: "call-1", CalleeID: "bob", CallType: "video"}, false},
		{"missing call id", CallInitiate{CalleeID: "bob", CallType: "audio"}, true},
		{"missing callee", CallInitiate{CallID: "call-1", CallType: "audio"}, true},
		{"bad kind", CallInitiate{CallID: "call-1", CalleeID: "bob", CallType: "screen"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate()=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestWebRTCSignal_PayloadSelection(t *testing.T) {
	var sig WebRTCSignal
	if err := json.Unmarshal([]byte(`{"call_id":"c1","candidate":{"sdpMid":"0"}}`), &sig); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := sig.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := string(sig.Payload()); got != `{"sdpMid":"0"}` {
		t.Fatalf("Payload=%s, want candidate body", got)
	}

	empty := WebRTCSignal{CallID: "c1"}
	if err := empty.Validate(); err == nil {
		t.Fatalf("expected error for signal without payload")
	}
}

func TestReadReceipt_Validate(t *testing.T) {
	ok := ReadReceipt{Target: "bob", MessageIDs: []string{"m1", "m2"}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (ReadReceipt{Target: "bob"}).Validate(); err == nil {
		t.Fatalf("expected error for empty message_ids")
	}
	if err := (ReadReceipt{MessageIDs: []string{"m1"}}).Validate(); err == nil {
		t.Fatalf("expected error for missing target")
	}
}

func TestOutboundFramesCarryTypeDiscriminator(t *testing.T) {
	frame, err := CallEnded("call-42", 30, "hangup")
	if err != nil {
		t.Fatalf("CallEnded: %v", err)
	}

	var decoded struct {
		Type     string `json:"type"`
		CallID   string `json:"call_id"`
		Duration int    `json:"duration"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeCallEnded || decoded.CallID != "call-42" || decoded.Duration != 30 || decoded.Reason != "hangup" {
		t.Fatalf("decoded=%+v, want call_ended/call-42/30/hangup", decoded)
	}
}

func TestOnlineUsersList_EmptyIsJSONArray(t *testing.T) {
	frame, err := OnlineUsersList(nil)
	if err != nil {
		t.Fatalf("OnlineUsersList: %v", err)
	}
	var decoded struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Users == nil || decoded.Count != 0 {
		t.Fatalf("decoded=%+v, want empty users array", decoded)
	}
}
