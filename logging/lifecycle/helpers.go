package lifecycle

import (
	"context"

	"towerdefense/server/logging"
)

const (
	// EventRoomCreated is emitted when a player opens a new room.
	EventRoomCreated logging.EventType = "lifecycle.room_created"
	// EventRoomDestroyed is emitted when an idle room is removed.
	EventRoomDestroyed logging.EventType = "lifecycle.room_destroyed"
	// EventRoomReset is emitted when a defeated room restarts for a joining player.
	EventRoomReset logging.EventType = "lifecycle.room_reset"
	// EventPlayerJoined is emitted when a player takes a lane.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerReconnected is emitted when an offline player resumes their lane.
	EventPlayerReconnected logging.EventType = "lifecycle.player_reconnected"
	// EventPlayerDisconnected is emitted when a player's connection drops or they leave.
	EventPlayerDisconnected logging.EventType = "lifecycle.player_disconnected"
	// EventPlayerEvicted is emitted when an offline player's grace period runs out.
	EventPlayerEvicted logging.EventType = "lifecycle.player_evicted"
)

// RoomPayload describes a room at the moment of the event.
type RoomPayload struct {
	Name       string `json:"name,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Wave       int    `json:"wave,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// PlayerJoinedPayload captures the lane a player was given.
type PlayerJoinedPayload struct {
	Name string `json:"name"`
	Lane string `json:"lane"`
}

// PlayerDisconnectedPayload captures why a player left.
type PlayerDisconnectedPayload struct {
	Reason string `json:"reason"`
	// Left is true when the player's record was removed rather than kept for reconnection.
	Left bool `json:"left"`
}

func publish(ctx context.Context, pub logging.Publisher, tick uint64, eventType logging.EventType, roomID string, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		RoomID:   roomID,
		Payload:  payload,
		Extra:    extra,
	})
}

// RoomCreated publishes a room creation event.
func RoomCreated(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, creator string, payload RoomPayload) {
	publish(ctx, pub, tick, EventRoomCreated, roomID, logging.PlayerRef(creator), payload, nil)
}

// RoomDestroyed publishes a room removal event.
func RoomDestroyed(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload RoomPayload) {
	publish(ctx, pub, tick, EventRoomDestroyed, roomID, logging.RoomRef(roomID), payload, nil)
}

// RoomReset publishes a run reset event.
func RoomReset(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload RoomPayload) {
	publish(ctx, pub, tick, EventRoomReset, roomID, logging.RoomRef(roomID), payload, nil)
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, tick, EventPlayerJoined, roomID, actor, payload, extra)
}

// PlayerReconnected publishes a reconnection event.
func PlayerReconnected(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, tick, EventPlayerReconnected, roomID, actor, payload, extra)
}

// PlayerDisconnected publishes a player disconnect event.
func PlayerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, actor logging.EntityRef, payload PlayerDisconnectedPayload, extra map[string]any) {
	publish(ctx, pub, tick, EventPlayerDisconnected, roomID, actor, payload, extra)
}

// PlayerEvicted publishes a grace expiry event.
func PlayerEvicted(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, actor logging.EntityRef) {
	publish(ctx, pub, tick, EventPlayerEvicted, roomID, actor, nil, nil)
}
