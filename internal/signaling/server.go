package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kaahochat/signalcore/internal/auth"
	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/call"
	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/presence"
	"github.com/kaahochat/signalcore/internal/protocol"
	"github.com/kaahochat/signalcore/internal/ratelimit"
	"github.com/kaahochat/signalcore/internal/registry"
)

// Config bounds per-connection behavior of the WebSocket endpoint.
type Config struct {
	// AuthTimeout is how long an unauthenticated connection may sit before
	// the server closes it.
	AuthTimeout time.Duration
	// MaxMessageBytes caps a single inbound frame.
	MaxMessageBytes int64
	// MessagesPerSecond is the sustained inbound rate per connection; the
	// burst capacity equals the rate.
	MessagesPerSecond int64
	// SendQueueFrames / SendQueueBytes bound the per-connection outbound
	// queue.
	SendQueueFrames int
	SendQueueBytes  int
	// ICEServers is sent verbatim in the ready event so clients can build
	// their RTCPeerConnection without a second round trip.
	ICEServers any
}

func (c Config) WithDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 50
	}
	if c.SendQueueFrames <= 0 {
		c.SendQueueFrames = 256
	}
	if c.SendQueueBytes <= 0 {
		c.SendQueueBytes = 1 << 20
	}
	return c
}

// Server is the WebSocket endpoint clients hold open for the lifetime of
// their session. It owns the read loop; writes go through the connection's
// outbound queue.
type Server struct {
	cfg        Config
	log        *slog.Logger
	metrics    *metrics.Metrics
	verifier   auth.Verifier
	registry   *registry.Registry
	bus        *bus.Bus
	presence   *presence.Service
	calls      *call.Manager
	reconciler *Reconciler
	upgrader   websocket.Upgrader
}

func NewServer(cfg Config, log *slog.Logger, m *metrics.Metrics, verifier auth.Verifier, reg *registry.Registry, b *bus.Bus, p *presence.Service, calls *call.Manager, rec *Reconciler) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:        cfg.WithDefaults(),
		log:        log,
		metrics:    m,
		verifier:   verifier,
		registry:   reg,
		bus:        b,
		presence:   p,
		calls:      calls,
		reconciler: rec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	c := newWSConn(connID, ws, s.cfg.SendQueueFrames, s.cfg.SendQueueBytes, s.metrics)
	if err := s.registry.Register(connID, c); err != nil {
		c.Close()
		return
	}
	s.metrics.Inc(metrics.ConnectionsOpened)
	log := s.log.With("conn_id", connID)
	log.Debug("connection opened", "remote", ws.RemoteAddr().String())

	defer func() {
		s.reconciler.ConnectionClosed(connID)
		c.Close()
		s.metrics.Inc(metrics.ConnectionsClosed)
		log.Debug("connection closed")
	}()

	s.readLoop(log, ws, c, connID)
}

type connState struct {
	identity      string
	authenticated bool
}

func (s *Server) readLoop(log *slog.Logger, ws *websocket.Conn, c *wsConn, connID string) {
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, s.cfg.MessagesPerSecond, s.cfg.MessagesPerSecond)
	state := &connState{}

	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	for {
		msgType, msgReader, err := ws.NextReader()
		if err != nil {
			if !state.authenticated && isTimeout(err) {
				writeClose(ws, websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(ws, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := readLimited(msgReader, s.cfg.MaxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				writeClose(ws, websocket.CloseMessageTooBig, "message too large")
				return
			}
			writeClose(ws, websocket.CloseInternalServerErr, "failed to read message")
			return
		}

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			writeClose(ws, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		typ, err := protocol.DecodeType(msg)
		if err != nil {
			s.protocolError(c, "", "malformed frame")
			continue
		}

		if !state.authenticated {
			if typ != protocol.TypeAuthenticate {
				writeClose(ws, websocket.ClosePolicyViolation, "authentication required")
				return
			}
			if !s.handleAuthenticate(log, ws, c, connID, state, msg) {
				return
			}
			continue
		}

		s.dispatch(log, c, connID, state, typ, msg)
	}
}

// handleAuthenticate reports whether the connection may continue reading.
func (s *Server) handleAuthenticate(log *slog.Logger, ws *websocket.Conn, c *wsConn, connID string, state *connState, msg []byte) bool {
	var req protocol.Authenticate
	if err := json.Unmarshal(msg, &req); err != nil {
		writeClose(ws, websocket.CloseUnsupportedData, "invalid authenticate message")
		return false
	}
	if err := req.Validate(); err != nil {
		writeClose(ws, websocket.ClosePolicyViolation, "missing credentials")
		return false
	}

	identity, err := s.verifier.Verify(req.Identity, req.Token)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailures)
		log.Info("authentication rejected", "error", err)
		writeClose(ws, websocket.ClosePolicyViolation, "invalid credentials")
		return false
	}

	first, err := s.registry.Authenticate(connID, identity)
	if err != nil {
		writeClose(ws, websocket.CloseInternalServerErr, "failed to bind identity")
		return false
	}

	state.identity = identity
	state.authenticated = true
	_ = ws.SetReadDeadline(time.Time{})

	s.bus.Subscribe(bus.BroadcastChannel, connID)
	s.bus.Subscribe(bus.IdentityChannel(identity), connID)
	s.presence.ConnectionAuthenticated(identity, first)
	s.metrics.Inc(metrics.ConnectionsAuthenticated)
	log.Info("connection authenticated", "identity", identity, "first", first)

	if frame, err := protocol.Ready(connID, identity, s.cfg.ICEServers); err == nil {
		c.Send(frame, true)
	}
	return true
}

func (s *Server) dispatch(log *slog.Logger, c *wsConn, connID string, state *connState, typ string, msg []byte) {
	switch typ {
	case protocol.TypeAuthenticate:
		s.sendError(c, protocol.CodeProtocolError, "connection already authenticated", "")

	case protocol.TypeCallInitiate:
		var req protocol.CallInitiate
		if !s.decode(c, msg, &req) {
			return
		}
		kind, _ := call.ParseKind(req.CallType)
		if _, err := s.calls.Initiate(req.CallID, state.identity, req.CalleeID, kind); err != nil {
			s.callError(c, err, req.CallID)
		}

	case protocol.TypeCallAnswer:
		var req protocol.CallAction
		if !s.decode(c, msg, &req) {
			return
		}
		if err := s.calls.Answer(req.CallID, state.identity, connID); err != nil {
			s.callError(c, err, req.CallID)
		}

	case protocol.TypeCallReject:
		var req protocol.CallAction
		if !s.decode(c, msg, &req) {
			return
		}
		if err := s.calls.Reject(req.CallID, state.identity, connID); err != nil {
			s.callError(c, err, req.CallID)
		}

	case protocol.TypeCallEnd:
		var req protocol.CallAction
		if !s.decode(c, msg, &req) {
			return
		}
		if _, err := s.calls.End(req.CallID, state.identity); err != nil {
			// A hangup racing the peer's hangup is not a client mistake.
			if !errors.Is(err, call.ErrInvalidState) {
				s.callError(c, err, req.CallID)
			}
		}

	case protocol.TypeWebRTCOffer, protocol.TypeWebRTCAnswer, protocol.TypeWebRTCICECandidate:
		var req protocol.WebRTCSignal
		if !s.decode(c, msg, &req) {
			return
		}
		kind := signalKindFor(typ)
		if err := s.calls.RelaySignal(req.CallID, state.identity, kind, req.Payload()); err != nil {
			s.callError(c, err, req.CallID)
		}

	case protocol.TypeTypingStart, protocol.TypeTypingStop:
		var req protocol.Typing
		if !s.decode(c, msg, &req) {
			return
		}
		if frame, err := protocol.TypingEvent(typ, state.identity); err == nil {
			s.bus.Publish(bus.IdentityChannel(req.Target), bus.Event{Type: typ, Frame: frame})
		}

	case protocol.TypeReadReceipt:
		var req protocol.ReadReceipt
		if !s.decode(c, msg, &req) {
			return
		}
		if frame, err := protocol.ReadReceiptEvent(state.identity, req.MessageIDs); err == nil {
			s.bus.Publish(bus.IdentityChannel(req.Target), bus.Event{Type: typ, Frame: frame})
		}

	case protocol.TypeGetOnlineUsers:
		if frame, err := protocol.OnlineUsersList(s.presence.Snapshot()); err == nil {
			c.Send(frame, false)
		}

	case protocol.TypeJoinChannel:
		var req protocol.ChannelJoin
		if !s.decode(c, msg, &req) {
			return
		}
		s.bus.Subscribe(bus.AdHocChannel(req.Channel), connID)

	case protocol.TypeLeaveChannel:
		var req protocol.ChannelJoin
		if !s.decode(c, msg, &req) {
			return
		}
		s.bus.Unsubscribe(bus.AdHocChannel(req.Channel), connID)

	case protocol.TypeChannelPublish:
		var req protocol.ChannelPublish
		if !s.decode(c, msg, &req) {
			return
		}
		if frame, err := protocol.ChannelEvent(req.Channel, state.identity, req.Payload); err == nil {
			s.bus.PublishExcept(bus.AdHocChannel(req.Channel), bus.Event{Type: protocol.TypeChannelEvent, Frame: frame}, connID)
		}

	default:
		log.Debug("unknown event type", "type", typ)
		s.sendError(c, protocol.CodeProtocolError, "unknown event type", "")
	}
}

// decode unmarshals and validates an inbound message, replying with a
// protocol error on failure.
func (s *Server) decode(c *wsConn, msg []byte, into interface{ Validate() error }) bool {
	if err := json.Unmarshal(msg, into); err != nil {
		s.protocolError(c, "", "malformed frame")
		return false
	}
	if err := into.Validate(); err != nil {
		s.protocolError(c, "", err.Error())
		return false
	}
	return true
}

func (s *Server) protocolError(c *wsConn, callID, message string) {
	s.metrics.Inc(metrics.DropReasonProtocol)
	s.sendError(c, protocol.CodeProtocolError, message, callID)
}

func (s *Server) callError(c *wsConn, err error, callID string) {
	s.sendError(c, callErrorCode(err), err.Error(), callID)
}

func (s *Server) sendError(c *wsConn, code, message, callID string) {
	if frame, err := protocol.ErrorEvent(code, message, callID); err == nil {
		c.Send(frame, true)
	}
}

func callErrorCode(err error) string {
	switch {
	case errors.Is(err, call.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, call.ErrDuplicateCallID):
		return protocol.CodeDuplicateCallID
	case errors.Is(err, call.ErrCalleeOffline):
		return protocol.CodeCalleeOffline
	case errors.Is(err, call.ErrNotCallee):
		return protocol.CodeNotCallee
	case errors.Is(err, call.ErrNotParticipant):
		return protocol.CodeNotParticipant
	case errors.Is(err, call.ErrInvalidState):
		return protocol.CodeInvalidState
	default:
		return protocol.CodeProtocolError
	}
}

func signalKindFor(typ string) call.SignalKind {
	switch typ {
	case protocol.TypeWebRTCOffer:
		return call.SignalOffer
	case protocol.TypeWebRTCAnswer:
		return call.SignalAnswer
	default:
		return call.SignalICECandidate
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
