package ws

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"towerdefense/server"
	"towerdefense/server/internal/net/proto"
	"towerdefense/server/internal/telemetry"
	"towerdefense/server/logging"
	loggingnetwork "towerdefense/server/logging/network"
)

// Hub receives decoded client traffic. Deliver may block until the hub
// accepts the message; an error means the hub is no longer serving.
type Hub interface {
	Connect(client server.Client) error
	Deliver(connID string, msg proto.ClientMessage) error
	Disconnect(connID string)
}

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	// RatePerSecond and Burst bound inbound frames per connection. A zero
	// rate disables limiting.
	RatePerSecond  float64
	Burst          int
	MaxMessageSize int64
	SendQueue      int
	// CheckOrigin overrides the default, which accepts every origin.
	CheckOrigin func(r *nethttp.Request) bool
}

type Handler struct {
	hub      Hub
	cfg      HandlerConfig
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *nethttp.Request) bool {
			return true
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}

	return &Handler{
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and serves the session until the peer goes
// away or the hub stops.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	session := newSession(uuid.NewString(), conn, h.cfg.SendQueue)
	if err := h.hub.Connect(session); err != nil {
		h.logger.Printf("hub refused connection %s: %v", session.ID(), err)
		message := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	loggingnetwork.ConnectionOpened(ctx, h.cfg.Publisher, session.ID(), loggingnetwork.ConnectionPayload{RemoteAddr: r.RemoteAddr})

	go session.writePump()
	reason := h.readPump(ctx, session)

	h.hub.Disconnect(session.ID())
	session.Close()
	loggingnetwork.ConnectionClosed(ctx, h.cfg.Publisher, session.ID(), loggingnetwork.ConnectionPayload{RemoteAddr: r.RemoteAddr, Reason: reason})
}

func (h *Handler) readPump(ctx context.Context, session *Session) string {
	conn := session.conn
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var limiter *rate.Limiter
	if h.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.Burst)
	}
	throttled := false

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-session.Done():
				return "closed by server"
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Printf("read error for %s: %v", session.ID(), err)
				return "read error"
			}
			return "closed"
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if limiter != nil && !limiter.Allow() {
			if !throttled {
				throttled = true
				loggingnetwork.RateLimited(ctx, h.cfg.Publisher, session.ID())
			}
			h.reply(session, "rate limited")
			continue
		}
		throttled = false

		msg, err := proto.Decode(payload)
		if err != nil {
			loggingnetwork.InvalidMessage(ctx, h.cfg.Publisher, 0, session.ID(), loggingnetwork.InvalidMessagePayload{
				Reason: err.Error(),
				Size:   len(payload),
			})
			if errors.Is(err, proto.ErrUnknownType) {
				h.reply(session, "unknown message type")
			} else {
				h.reply(session, "malformed message")
			}
			continue
		}

		if err := h.hub.Deliver(session.ID(), msg); err != nil {
			return "hub stopped"
		}
	}
}

func (h *Handler) reply(session *Session, text string) {
	data, err := proto.Encode(&proto.Error{Message: text})
	if err != nil {
		h.logger.Printf("failed to marshal error reply for %s: %v", session.ID(), err)
		return
	}
	session.Send(data)
}
