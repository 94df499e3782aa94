// Package actions validates and applies client build/sell commands against a
// room, deduplicating on the player's recent-action window.
package actions

import (
	"time"

	"towerdefense/server/internal/game"
)

// Rejection reasons reported to clients.
const (
	ReasonNotInRoom     = "not in room"
	ReasonGameOver      = "game over"
	ReasonInvalidLane   = "invalid lane"
	ReasonInvalidSlot   = "invalid slot"
	ReasonLaneNotOwned  = "lane not owned"
	ReasonUnknownAction = "unknown action"
	ReasonUnknownTower  = "unknown tower type"
	ReasonSlotOccupied  = "tower already present"
	ReasonNoGold        = "insufficient gold"
	ReasonNothingToSell = "no tower to sell"
	ReasonMissingID     = "missing action id"
	ReasonServerBusy    = "server busy"
)

// Result is the outcome of one action. Rejections are values, not errors.
type Result struct {
	ActionID  string
	OK        bool
	Duplicate bool
	Reason    string
	// GoldDelta is the change in team gold, negative for builds.
	GoldDelta int
	Kind      game.ActionKind
	TowerType game.TowerType
}

func reject(action game.Action, reason string) Result {
	return Result{ActionID: action.ActionID, Reason: reason, Kind: action.Kind, TowerType: action.TowerType}
}

// Apply validates action for playerID and mutates room on success. A
// previously applied action id is acknowledged as a duplicate before any
// validation runs, so retries always see the same answer.
func Apply(room *game.Room, playerID string, action game.Action, now time.Time) Result {
	if room == nil {
		return reject(action, ReasonNotInRoom)
	}
	player, ok := room.Players[playerID]
	if !ok {
		return reject(action, ReasonNotInRoom)
	}
	if action.ActionID == "" {
		return reject(action, ReasonMissingID)
	}
	if player.Recent.Contains(action.ActionID) {
		return Result{ActionID: action.ActionID, OK: true, Duplicate: true, Kind: action.Kind, TowerType: action.TowerType}
	}

	if room.Phase != game.PhaseRunning {
		return reject(action, ReasonGameOver)
	}
	if !room.HasLane(action.Lane) {
		return reject(action, ReasonInvalidLane)
	}
	if !game.ValidSlot(action.Slot) {
		return reject(action, ReasonInvalidSlot)
	}
	if action.Lane != player.Lane {
		return reject(action, ReasonLaneNotOwned)
	}

	var result Result
	switch action.Kind {
	case game.ActionBuild:
		result = build(room, player, action)
	case game.ActionSell:
		result = sell(room, action)
	default:
		return reject(action, ReasonUnknownAction)
	}
	if !result.OK {
		return result
	}

	player.Recent.Add(game.ActionRecord{
		ActionID: action.ActionID,
		Lane:     action.Lane,
		Slot:     action.Slot,
		Kind:     action.Kind,
	})
	player.LastSeenAt = now
	room.LastActiveAt = now
	return result
}

func build(room *game.Room, player *game.Player, action game.Action) Result {
	spec, ok := game.LookupTower(action.TowerType)
	if !ok {
		return reject(action, ReasonUnknownTower)
	}
	if room.TowerAt(action.Lane, action.Slot) != nil {
		return reject(action, ReasonSlotOccupied)
	}
	if room.TeamGold < spec.Cost {
		return reject(action, ReasonNoGold)
	}
	room.TeamGold -= spec.Cost
	room.SetTower(action.Lane, action.Slot, &game.Tower{
		Type:  spec.Type,
		Owner: player.ID,
		HP:    spec.MaxHP,
		MaxHP: spec.MaxHP,
	})
	player.Builds++
	return Result{
		ActionID:  action.ActionID,
		OK:        true,
		GoldDelta: -spec.Cost,
		Kind:      action.Kind,
		TowerType: spec.Type,
	}
}

func sell(room *game.Room, action game.Action) Result {
	tower := room.TowerAt(action.Lane, action.Slot)
	if tower == nil {
		return reject(action, ReasonNothingToSell)
	}
	refund := 0
	if spec, ok := game.LookupTower(tower.Type); ok {
		refund = spec.RefundAmount()
	}
	room.TeamGold += refund
	room.SetTower(action.Lane, action.Slot, nil)
	return Result{
		ActionID:  action.ActionID,
		OK:        true,
		GoldDelta: refund,
		Kind:      action.Kind,
		TowerType: tower.Type,
	}
}
