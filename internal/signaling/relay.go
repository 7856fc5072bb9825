package signaling

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/call"
	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/protocol"
)

// Relay turns call lifecycle transitions into wire events on the
// participants' identity channels. It is the call manager's Signaler, so a
// participant with several devices gets every event on all of them.
type Relay struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	bus     *bus.Bus
}

func NewRelay(log *slog.Logger, m *metrics.Metrics, b *bus.Bus) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Relay{log: log, metrics: m, bus: b}
}

func (r *Relay) publish(identity, typ string, frame []byte, err error, critical bool) {
	if err != nil {
		r.log.Error("encode outbound event", "type", typ, "error", err)
		return
	}
	r.bus.Publish(bus.IdentityChannel(identity), bus.Event{Type: typ, Frame: frame, Critical: critical})
}

func (r *Relay) IncomingCall(callee, callID, caller string, kind call.Kind) {
	frame, err := protocol.IncomingCall(callID, caller, string(kind))
	r.publish(callee, protocol.TypeIncomingCall, frame, err, false)
}

func (r *Relay) CallAnswered(caller, callID string) {
	frame, err := protocol.CallAnswered(callID)
	r.publish(caller, protocol.TypeCallAnswered, frame, err, false)
}

// CallAnsweredElsewhere tells the callee's other devices to stop ringing. The
// acting device is excluded; it already knows.
func (r *Relay) CallAnsweredElsewhere(callee, callID, actingConnID string) {
	frame, err := protocol.CallAnsweredElsewhere(callID)
	if err != nil {
		r.log.Error("encode outbound event", "type", protocol.TypeCallAnsweredElsewhere, "error", err)
		return
	}
	r.bus.PublishExcept(bus.IdentityChannel(callee), bus.Event{
		Type:     protocol.TypeCallAnsweredElsewhere,
		Frame:    frame,
		Critical: true,
	}, actingConnID)
}

func (r *Relay) CallRejected(caller, callID string) {
	frame, err := protocol.CallRejected(callID)
	r.publish(caller, protocol.TypeCallRejected, frame, err, true)
}

func (r *Relay) CallRejectedElsewhere(callee, callID, actingConnID string) {
	frame, err := protocol.CallRejectedElsewhere(callID)
	if err != nil {
		r.log.Error("encode outbound event", "type", protocol.TypeCallRejectedElsewhere, "error", err)
		return
	}
	r.bus.PublishExcept(bus.IdentityChannel(callee), bus.Event{
		Type:     protocol.TypeCallRejectedElsewhere,
		Frame:    frame,
		Critical: true,
	}, actingConnID)
}

func (r *Relay) CallEnded(identity, callID string, duration time.Duration, reason string) {
	frame, err := protocol.CallEnded(callID, int(duration/time.Second), reason)
	r.publish(identity, protocol.TypeCallEnded, frame, err, true)
}

func (r *Relay) ForwardSignal(target, callID string, kind call.SignalKind, payload json.RawMessage) {
	var (
		frame []byte
		err   error
		typ   string
	)
	switch kind {
	case call.SignalOffer:
		typ = protocol.TypeWebRTCOffer
		frame, err = protocol.ForwardedOffer(callID, payload)
	case call.SignalAnswer:
		typ = protocol.TypeWebRTCAnswer
		frame, err = protocol.ForwardedAnswer(callID, payload)
	case call.SignalICECandidate:
		typ = protocol.TypeWebRTCICECandidate
		frame, err = protocol.ForwardedICECandidate(callID, payload)
	default:
		r.log.Error("unknown signal kind", "kind", string(kind))
		return
	}
	r.publish(target, typ, frame, err, false)
}
