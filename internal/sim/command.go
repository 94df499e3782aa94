package sim

import (
	"time"

	"towerdefense/server/internal/game"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandBuild CommandType = "build"
	CommandSell  CommandType = "sell"
)

// Command represents a client action captured for processing on the next
// tick. ActorID is the submitting connection.
type Command struct {
	OriginTick uint64      `json:"originTick"`
	ActorID    string      `json:"actorId"`
	Type       CommandType `json:"type"`
	IssuedAt   time.Time   `json:"issuedAt"`
	Action     game.Action `json:"action"`
}

// NewActionCommand wraps a client action for staging.
func NewActionCommand(tick uint64, actorID string, issuedAt time.Time, action game.Action) Command {
	return Command{
		OriginTick: tick,
		ActorID:    actorID,
		Type:       CommandType(action.Kind),
		IssuedAt:   issuedAt,
		Action:     action,
	}
}
