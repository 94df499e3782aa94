// Package intake turns inbound action messages into staged simulation
// commands.
package intake

import (
	"time"

	"towerdefense/server/internal/actions"
	"towerdefense/server/internal/net/proto"
	"towerdefense/server/internal/sim"
)

// Stager accepts commands for the next tick boundary.
type Stager interface {
	Enqueue(cmd sim.Command) (bool, string)
}

type CommandContext struct {
	Loop Stager
	// InRoom reports whether the connection is bound to a room.
	InRoom func(connID string) bool
	Tick   func() uint64
	Now    func() time.Time
}

// StageAction queues msg for connID. On rejection the returned reason is
// suitable for an immediate ack.
func StageAction(ctx CommandContext, connID string, msg proto.Action) (sim.Command, bool, string) {
	var zero sim.Command

	if ctx.InRoom != nil && !ctx.InRoom(connID) {
		return zero, false, actions.ReasonNotInRoom
	}

	var tick uint64
	if ctx.Tick != nil {
		tick = ctx.Tick()
	}
	issuedAt := time.Now()
	if ctx.Now != nil {
		issuedAt = ctx.Now()
	}
	command := sim.NewActionCommand(tick, connID, issuedAt, msg.GameAction())

	if ctx.Loop == nil {
		return zero, false, actions.ReasonServerBusy
	}
	if ok, _ := ctx.Loop.Enqueue(command); !ok {
		return zero, false, actions.ReasonServerBusy
	}
	return command, true, ""
}
