package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towerdefense/server/internal/actions"
	"towerdefense/server/internal/game"
	"towerdefense/server/internal/net/proto"
	"towerdefense/server/internal/sim"
)

type fakeStager struct {
	ok       bool
	reason   string
	commands []sim.Command
}

func (f *fakeStager) Enqueue(cmd sim.Command) (bool, string) {
	f.commands = append(f.commands, cmd)
	if f.ok {
		return true, ""
	}
	return false, f.reason
}

func buildAction() proto.Action {
	return proto.Action{
		Type:      proto.TypeAction,
		ActionID:  "a-1",
		Lane:      "east",
		Slot:      4,
		Kind:      "build",
		TowerType: "cannon",
	}
}

func TestStageActionQueuesCommand(t *testing.T) {
	stager := &fakeStager{ok: true}
	issuedAt := time.Unix(100, 0)
	ctx := CommandContext{
		Loop:   stager,
		InRoom: func(id string) bool { return id == "conn-1" },
		Tick:   func() uint64 { return 42 },
		Now:    func() time.Time { return issuedAt },
	}

	cmd, ok, reason := StageAction(ctx, "conn-1", buildAction())
	require.True(t, ok, reason)
	assert.Equal(t, "conn-1", cmd.ActorID)
	assert.Equal(t, uint64(42), cmd.OriginTick)
	assert.Equal(t, issuedAt, cmd.IssuedAt)
	assert.Equal(t, sim.CommandBuild, cmd.Type)
	assert.Equal(t, game.Action{
		ActionID:  "a-1",
		Lane:      game.LaneEast,
		Slot:      4,
		Kind:      game.ActionBuild,
		TowerType: game.TowerCannon,
	}, cmd.Action)
	require.Len(t, stager.commands, 1)
	assert.Equal(t, cmd, stager.commands[0])
}

func TestStageActionRejectsUnboundConnection(t *testing.T) {
	stager := &fakeStager{ok: true}
	ctx := CommandContext{
		Loop:   stager,
		InRoom: func(string) bool { return false },
	}

	_, ok, reason := StageAction(ctx, "conn-1", buildAction())
	assert.False(t, ok)
	assert.Equal(t, actions.ReasonNotInRoom, reason)
	assert.Empty(t, stager.commands)
}

func TestStageActionReportsBackpressure(t *testing.T) {
	for _, loopReason := range []string{sim.CommandRejectQueueFull, sim.CommandRejectQueueLimit} {
		t.Run(loopReason, func(t *testing.T) {
			stager := &fakeStager{reason: loopReason}
			_, ok, reason := StageAction(CommandContext{Loop: stager}, "conn-1", buildAction())
			assert.False(t, ok)
			assert.Equal(t, actions.ReasonServerBusy, reason)
		})
	}

	_, ok, reason := StageAction(CommandContext{}, "conn-1", buildAction())
	assert.False(t, ok)
	assert.Equal(t, actions.ReasonServerBusy, reason)
}

func TestStageActionAgainstLoop(t *testing.T) {
	loop := sim.NewLoop(sim.Deps{}, sim.LoopConfig{CommandCapacity: 4, PerActorLimit: 2}, sim.LoopHooks{})
	ctx := CommandContext{Loop: loop}

	for i := 0; i < 2; i++ {
		_, ok, _ := StageAction(ctx, "conn-1", buildAction())
		require.True(t, ok)
	}
	_, ok, reason := StageAction(ctx, "conn-1", buildAction())
	assert.False(t, ok)
	assert.Equal(t, actions.ReasonServerBusy, reason)
	assert.Equal(t, 2, loop.Pending())
}
