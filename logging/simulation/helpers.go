package simulation

import (
	"context"

	"towerdefense/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a hub tick takes longer than its interval.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventCommandDropped is emitted when the command buffer refuses an action.
	EventCommandDropped logging.EventType = "simulation.command_dropped"
	// EventWaveStarted is emitted when a room begins spawning a wave.
	EventWaveStarted logging.EventType = "simulation.wave_started"
	// EventWaveCleared is emitted when a wave's last enemy dies or leaks.
	EventWaveCleared logging.EventType = "simulation.wave_cleared"
	// EventDefeat is emitted when a room's core falls.
	EventDefeat logging.EventType = "simulation.defeat"
	// EventHubFault is emitted when the hub goroutine recovers from a panic.
	EventHubFault logging.EventType = "simulation.hub_fault"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// CommandDroppedPayload describes a refused command.
type CommandDroppedPayload struct {
	Reason  string `json:"reason"`
	Pending int    `json:"pending"`
}

// WavePayload describes a wave transition.
type WavePayload struct {
	Wave    int `json:"wave"`
	Credits int `json:"credits,omitempty"`
	CoreHP  int `json:"coreHp"`
}

// HubFaultPayload carries the recovered panic value.
type HubFaultPayload struct {
	Panic string `json:"panic"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		Payload:  payload,
	})
}

// CommandDropped publishes a warning for a refused command.
func CommandDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, actionID string, payload CommandDroppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		ActionID: actionID,
		Payload:  payload,
	})
}

// WaveStarted publishes a wave start.
func WaveStarted(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload WavePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWaveStarted,
		Tick:     tick,
		Actor:    logging.RoomRef(roomID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		RoomID:   roomID,
		Payload:  payload,
	})
}

// WaveCleared publishes a wave clear.
func WaveCleared(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload WavePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWaveCleared,
		Tick:     tick,
		Actor:    logging.RoomRef(roomID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		RoomID:   roomID,
		Payload:  payload,
	})
}

// Defeat publishes a lost run.
func Defeat(ctx context.Context, pub logging.Publisher, tick uint64, roomID string, payload WavePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDefeat,
		Tick:     tick,
		Actor:    logging.RoomRef(roomID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		RoomID:   roomID,
		Payload:  payload,
	})
}

// HubFault publishes an error when the hub recovers from a panic.
func HubFault(ctx context.Context, pub logging.Publisher, tick uint64, payload HubFaultPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHubFault,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityError,
		Category: logging.CategorySystem,
		Payload:  payload,
	})
}
