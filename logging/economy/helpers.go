package economy

import (
	"context"

	"towerdefense/server/logging"
)

const (
	// EventTowerBuilt is emitted when a build action spends team gold.
	EventTowerBuilt logging.EventType = "economy.tower_built"
	// EventTowerSold is emitted when a sell action refunds team gold.
	EventTowerSold logging.EventType = "economy.tower_sold"
	// EventActionRejected is emitted when a build or sell is refused.
	EventActionRejected logging.EventType = "economy.action_rejected"
	// EventWaveBonus is emitted when a cleared wave pays the team.
	EventWaveBonus logging.EventType = "economy.wave_bonus"
)

// TowerPayload describes a build or sell.
type TowerPayload struct {
	TowerType string `json:"towerType"`
	Lane      string `json:"lane"`
	Slot      int    `json:"slot"`
	GoldDelta int    `json:"goldDelta"`
	TeamGold  int    `json:"teamGold"`
}

// ActionRejectedPayload describes why an action failed.
type ActionRejectedPayload struct {
	Kind   string `json:"kind,omitempty"`
	Lane   string `json:"lane,omitempty"`
	Slot   int    `json:"slot"`
	Reason string `json:"reason"`
}

// WaveBonusPayload describes a wave clear payout.
type WaveBonusPayload struct {
	Wave     int `json:"wave"`
	Bonus    int `json:"bonus"`
	TeamGold int `json:"teamGold"`
}

// TowerBuilt publishes a build event.
func TowerBuilt(ctx context.Context, pub logging.Publisher, tick uint64, roomID, actionID string, actor logging.EntityRef, payload TowerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTowerBuilt,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		RoomID:   roomID,
		ActionID: actionID,
		Payload:  payload,
	})
}

// TowerSold publishes a sell event.
func TowerSold(ctx context.Context, pub logging.Publisher, tick uint64, roomID, actionID string, actor logging.EntityRef, payload TowerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTowerSold,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		RoomID:   roomID,
		ActionID: actionID,
		Payload:  payload,
	})
}

// ActionRejected publishes a debug event for a refused action.
func ActionRejected(ctx context.Context, pub logging.Publisher, tick uint64, roomID, actionID string, actor logging.EntityRef, payload ActionRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActionRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryEconomy,
		RoomID:   roomID,
		ActionID: actionID,
		Payload:  payload,
	})
}

// WaveBonus publishes a wave clear payout.
func WaveBonus(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload WaveBonusPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWaveBonus,
		Tick:     tick,
		Actor:    logging.RoomRef(roomID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEconomy,
		RoomID:   roomID,
		Payload:  payload,
	})
}
