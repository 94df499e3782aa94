package persistence

import (
	"context"

	"towerdefense/server/logging"
)

const (
	// EventSnapshotSaved is emitted after a snapshot reaches the store.
	EventSnapshotSaved logging.EventType = "persistence.snapshot_saved"
	// EventSnapshotFailed is emitted when a save attempt fails.
	EventSnapshotFailed logging.EventType = "persistence.snapshot_failed"
	// EventSnapshotLoaded is emitted after startup hydration.
	EventSnapshotLoaded logging.EventType = "persistence.snapshot_loaded"
	// EventSnapshotSanitized is emitted once per repaired field during hydration.
	EventSnapshotSanitized logging.EventType = "persistence.snapshot_sanitized"
)

// SavedPayload describes a completed save.
type SavedPayload struct {
	Rooms          int   `json:"rooms"`
	Bytes          int   `json:"bytes"`
	Compressed     bool  `json:"compressed"`
	DurationMillis int64 `json:"durationMillis"`
}

// FailedPayload describes a failed save attempt.
type FailedPayload struct {
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// LoadedPayload summarizes hydration.
type LoadedPayload struct {
	Version      int `json:"version"`
	RoomsLoaded  int `json:"roomsLoaded"`
	RoomsDropped int `json:"roomsDropped"`
	Issues       int `json:"issues"`
}

// SanitizedPayload describes one repaired field.
type SanitizedPayload struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// SnapshotSaved publishes a debug event for a completed save.
func SnapshotSaved(ctx context.Context, pub logging.Publisher, payload SavedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotSaved,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPersistence,
		Payload:  payload,
	})
}

// SnapshotFailed publishes an error for a failed save.
func SnapshotFailed(ctx context.Context, pub logging.Publisher, payload FailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotFailed,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityError,
		Category: logging.CategoryPersistence,
		Payload:  payload,
	})
}

// SnapshotLoaded publishes the hydration summary.
func SnapshotLoaded(ctx context.Context, pub logging.Publisher, payload LoadedPayload) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if payload.Issues > 0 || payload.RoomsDropped > 0 {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotLoaded,
		Actor:    logging.ServerRef(),
		Severity: severity,
		Category: logging.CategoryPersistence,
		Payload:  payload,
	})
}

// SnapshotSanitized publishes one repaired field.
func SnapshotSanitized(ctx context.Context, pub logging.Publisher, roomID string, payload SanitizedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotSanitized,
		Actor:    logging.RoomRef(roomID),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryPersistence,
		RoomID:   roomID,
		Payload:  payload,
	})
}
