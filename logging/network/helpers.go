package network

import (
	"context"

	"towerdefense/server/logging"
)

const (
	// EventConnectionOpened is emitted when a websocket upgrade completes.
	EventConnectionOpened logging.EventType = "network.connection_opened"
	// EventConnectionClosed is emitted when a connection is torn down.
	EventConnectionClosed logging.EventType = "network.connection_closed"
	// EventInvalidMessage is emitted when a client frame fails validation.
	EventInvalidMessage logging.EventType = "network.invalid_message"
	// EventRateLimited is emitted when a client exceeds its message budget.
	EventRateLimited logging.EventType = "network.rate_limited"
	// EventSendOverflow is emitted when outbound frames are dropped.
	EventSendOverflow logging.EventType = "network.send_overflow"
)

// ConnectionPayload describes a connection endpoint.
type ConnectionPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// InvalidMessagePayload captures why a frame was refused.
type InvalidMessagePayload struct {
	Reason string `json:"reason"`
	Size   int    `json:"size"`
}

// ConnectionOpened publishes a debug event for a new connection.
func ConnectionOpened(ctx context.Context, pub logging.Publisher, connID string, payload ConnectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionOpened,
		Actor:    logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// ConnectionClosed publishes a debug event for a closed connection.
func ConnectionClosed(ctx context.Context, pub logging.Publisher, connID string, payload ConnectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnectionClosed,
		Actor:    logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// InvalidMessage publishes a warning for a rejected client frame.
func InvalidMessage(ctx context.Context, pub logging.Publisher, tick uint64, connID string, payload InvalidMessagePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInvalidMessage,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// RateLimited publishes a warning for a throttled client.
func RateLimited(ctx context.Context, pub logging.Publisher, connID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRateLimited,
		Actor:    logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
	})
}

// SendOverflowPayload counts frames discarded for a slow consumer.
type SendOverflowPayload struct {
	Dropped uint64 `json:"dropped"`
}

// SendQueueOverflow publishes a warning when a connection's send queue is full.
func SendQueueOverflow(ctx context.Context, pub logging.Publisher, connID string, payload SendOverflowPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSendOverflow,
		Actor:    logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
