package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towerdefense/server/internal/game"
)

func TestLoopAppliesCommandsBeforeStep(t *testing.T) {
	var order []string
	loop := NewLoop(Deps{}, LoopConfig{CommandCapacity: 8, PerActorLimit: 4}, LoopHooks{
		Apply: func(_ LoopTickContext, cmd Command) { order = append(order, "apply:"+cmd.Action.ActionID) },
		Step:  func(LoopTickContext) { order = append(order, "step") },
	})

	for _, id := range []string{"a1", "a2"} {
		ok, reason := loop.Enqueue(NewActionCommand(1, "conn-1", time.Time{}, game.Action{ActionID: id, Kind: game.ActionBuild}))
		require.True(t, ok, reason)
	}
	require.Equal(t, 2, loop.Pending())

	result := loop.Advance(LoopTickContext{Tick: 1, Delta: 0.1})
	assert.Equal(t, []string{"apply:a1", "apply:a2", "step"}, order)
	assert.Len(t, result.Commands, 2)
	assert.Equal(t, CommandBuild, result.Commands[0].Type)
	assert.Zero(t, loop.Pending())
}

func TestLoopPerActorLimitResetsEachTick(t *testing.T) {
	var drops []string
	metrics := newRecordingMetrics()
	loop := NewLoop(Deps{Metrics: metrics}, LoopConfig{CommandCapacity: 16, PerActorLimit: 2}, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) { drops = append(drops, reason) },
	})
	cmd := Command{ActorID: "conn-1"}

	ok, _ := loop.Enqueue(cmd)
	assert.True(t, ok)
	ok, _ = loop.Enqueue(cmd)
	assert.True(t, ok)
	ok, reason := loop.Enqueue(cmd)
	assert.False(t, ok)
	assert.Equal(t, CommandRejectQueueLimit, reason)

	ok, _ = loop.Enqueue(Command{ActorID: "conn-2"})
	assert.True(t, ok, "other actors are not throttled")

	loop.Advance(LoopTickContext{Tick: 1})
	ok, _ = loop.Enqueue(cmd)
	assert.True(t, ok, "limit resets after drain")
	assert.Equal(t, []string{CommandRejectQueueLimit}, drops)
	assert.Equal(t, uint64(1), metrics.added["command_drops_total"])
}

func TestLoopReportsFullBuffer(t *testing.T) {
	loop := NewLoop(Deps{}, LoopConfig{CommandCapacity: 1}, LoopHooks{})
	ok, _ := loop.Enqueue(Command{ActorID: "a"})
	require.True(t, ok)
	ok, reason := loop.Enqueue(Command{ActorID: "b"})
	assert.False(t, ok)
	assert.Equal(t, CommandRejectQueueFull, reason)
}

func TestLoopStepResultBudget(t *testing.T) {
	result := LoopStepResult{Duration: 150 * time.Millisecond, Budget: 100 * time.Millisecond}
	assert.True(t, result.OverBudget())
	result.Duration = 10 * time.Millisecond
	assert.False(t, result.OverBudget())
}
