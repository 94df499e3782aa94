package rooms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towerdefense/server/internal/game"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const grace = 3 * time.Minute

func newSessions(t *testing.T) (*Registry, *Sessions) {
	t.Helper()
	registry := NewRegistry(20 * time.Minute)
	return registry, NewSessions(registry, grace)
}

func TestCreateAllocatesUniqueCodes(t *testing.T) {
	registry := NewRegistry(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		room, err := registry.Create("", 4, epoch)
		require.NoError(t, err)
		require.Len(t, room.ID, codeLength)
		assert.True(t, game.ValidRoomCode(room.ID))
		assert.False(t, seen[room.ID], "duplicate code %s", room.ID)
		seen[room.ID] = true
	}
	assert.Equal(t, 50, registry.Len())

	_, err := registry.Create("bad", 1, epoch)
	assert.ErrorIs(t, err, game.ErrInvalidCapacity)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	registry := NewRegistry(time.Minute)
	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	registry.newCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}
	first, err := registry.Create("one", 2, epoch)
	require.NoError(t, err)
	second, err := registry.Create("two", 2, epoch)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.ID)
	assert.Equal(t, "BBBBBBBB", second.ID)
}

func TestSweepIdleRemovesEmptyStaleRooms(t *testing.T) {
	registry := NewRegistry(20 * time.Minute)
	stale, _ := registry.Create("stale", 2, epoch)
	occupied, _ := registry.Create("occupied", 2, epoch)
	occupied.Players["p"] = game.NewPlayer("p", "P", game.LaneEast, epoch)
	fresh, _ := registry.Create("fresh", 2, epoch.Add(15*time.Minute))

	removed := registry.SweepIdle(epoch.Add(21 * time.Minute))

	assert.Equal(t, []string{stale.ID}, removed)
	_, ok := registry.Get(occupied.ID)
	assert.True(t, ok)
	_, ok = registry.Get(fresh.ID)
	assert.True(t, ok)
}

func TestSummariesOrderedByCreation(t *testing.T) {
	registry := NewRegistry(time.Minute)
	later, _ := registry.Create("later", 3, epoch.Add(time.Second))
	earlier, _ := registry.Create("earlier", 2, epoch)
	summaries := registry.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, earlier.ID, summaries[0].ID)
	assert.Equal(t, later.ID, summaries[1].ID)
	assert.Equal(t, []game.Lane{game.LaneEast, game.LaneWest, game.LaneNorth}, summaries[1].Lanes)
}

func TestJoinAssignsLanesUntilFull(t *testing.T) {
	registry, sessions := newSessions(t)
	room, err := registry.Create("scenario", 2, epoch)
	require.NoError(t, err)
	assert.Equal(t, []game.Lane{game.LaneEast, game.LaneWest}, room.ActiveLanes)

	a, err := sessions.Join("conn-a", room.ID, "player-a", "A", epoch)
	require.NoError(t, err)
	assert.Equal(t, game.LaneEast, a.Player.Lane)

	b, err := sessions.Join("conn-b", room.ID, "player-b", "B", epoch)
	require.NoError(t, err)
	assert.Equal(t, game.LaneWest, b.Player.Lane)

	_, err = sessions.Join("conn-c", room.ID, "player-c", "C", epoch)
	require.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, "room full", err.Error())
	_, bound := sessions.Binding("conn-c")
	assert.False(t, bound)
}

func TestJoinUnknownRoom(t *testing.T) {
	_, sessions := newSessions(t)
	_, err := sessions.Join("c", "NOPE", "p", "", epoch)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestReconnectKeepsLaneAndCounters(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 3, epoch)
	_, err := sessions.Join("conn-1", room.ID, "p1", "Ann", epoch)
	require.NoError(t, err)
	joined, err := sessions.Join("conn-2", room.ID, "p2", "Bo", epoch)
	require.NoError(t, err)
	joined.Player.Kills = 12
	joined.Player.Builds = 4
	joined.Player.Recent.Add(game.ActionRecord{ActionID: "keep-me"})

	sessions.Leave("conn-2", false, epoch.Add(time.Second))
	assert.False(t, room.Players["p2"].Online)

	back, err := sessions.Join("conn-3", room.ID, "p2", "", epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, back.Reconnected)
	assert.Equal(t, game.LaneWest, back.Player.Lane)
	assert.Equal(t, 12, back.Player.Kills)
	assert.Equal(t, 4, back.Player.Builds)
	assert.Equal(t, "Bo", back.Player.Name)
	assert.True(t, back.Player.Recent.Contains("keep-me"))
	assert.True(t, back.Player.Online)
	assert.True(t, back.Player.OfflineSince.IsZero())
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 2, epoch)
	_, err := sessions.Join("old", room.ID, "p1", "Ann", epoch)
	require.NoError(t, err)

	result, err := sessions.Join("new", room.ID, "p1", "Ann", epoch)
	require.NoError(t, err)
	assert.Equal(t, "old", result.Replaced)
	_, oldBound := sessions.Binding("old")
	assert.False(t, oldBound)
	assert.Equal(t, []string{"new"}, sessions.Connections(room.ID))

	// The replaced socket closing later must not take the player offline.
	_, left := sessions.Leave("old", false, epoch)
	assert.False(t, left)
	assert.True(t, room.Players["p1"].Online)
}

func TestOfflineLaneReusedOnlyAfterGrace(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 2, epoch)
	_, err := sessions.Join("a", room.ID, "pa", "A", epoch)
	require.NoError(t, err)
	_, err = sessions.Join("b", room.ID, "pb", "B", epoch)
	require.NoError(t, err)
	sessions.Leave("a", false, epoch)

	_, err = sessions.Join("c", room.ID, "pc", "C", epoch.Add(grace-time.Second))
	require.ErrorIs(t, err, ErrRoomFull)

	joined, err := sessions.Join("c", room.ID, "pc", "C", epoch.Add(grace))
	require.NoError(t, err)
	assert.Equal(t, game.LaneEast, joined.Player.Lane)
	assert.NotContains(t, room.Players, "pa")
}

func TestExplicitLeaveFreesLane(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 2, epoch)
	_, _ = sessions.Join("a", room.ID, "pa", "A", epoch)
	_, _ = sessions.Join("b", room.ID, "pb", "B", epoch)

	left, ok := sessions.Leave("a", true, epoch)
	require.True(t, ok)
	assert.True(t, left.Destroyed)
	assert.NotContains(t, room.Players, "pa")

	joined, err := sessions.Join("c", room.ID, "pc", "C", epoch)
	require.NoError(t, err)
	assert.Equal(t, game.LaneEast, joined.Player.Lane)
}

func TestJoinResetsDefeatedRoom(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 2, epoch)
	room.Phase = game.PhaseDefeat
	room.CoreHP = 0
	room.Wave = 9
	room.SetTower(game.LaneEast, 0, &game.Tower{Type: game.TowerBolt})

	result, err := sessions.Join("a", room.ID, "pa", "A", epoch)
	require.NoError(t, err)
	assert.True(t, result.Reset)
	assert.Equal(t, game.PhaseRunning, room.Phase)
	assert.Equal(t, 1, room.Wave)
	assert.Equal(t, game.StartingCoreHP, room.CoreHP)
	assert.Zero(t, room.TowerCount())
}

func TestJoiningAnotherRoomLeavesThePrevious(t *testing.T) {
	registry, sessions := newSessions(t)
	first, _ := registry.Create("first", 2, epoch)
	second, _ := registry.Create("second", 2, epoch)
	_, err := sessions.Join("conn", first.ID, "p", "P", epoch)
	require.NoError(t, err)

	result, err := sessions.Join("conn", second.ID, "p", "P", epoch)
	require.NoError(t, err)
	require.NotNil(t, result.Left)
	assert.Equal(t, first.ID, result.Left.Binding.RoomID)
	assert.NotContains(t, first.Players, "p")
	assert.Contains(t, second.Players, "p")
}

func TestFailedSwitchKeepsPreviousMembership(t *testing.T) {
	registry, sessions := newSessions(t)
	first, _ := registry.Create("first", 2, epoch)
	full, _ := registry.Create("full", 2, epoch)
	_, err := sessions.Join("conn", first.ID, "p", "P", epoch)
	require.NoError(t, err)
	for _, id := range []string{"x", "y"} {
		_, err := sessions.Join(id+"-conn", full.ID, id, id, epoch)
		require.NoError(t, err)
	}

	result, err := sessions.Join("conn", full.ID, "p", "P", epoch.Add(time.Second))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Nil(t, result.Left)
	assert.NotContains(t, full.Players, "p")

	_, err = sessions.Join("conn", "MISSING1", "p", "P", epoch.Add(time.Second))
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.Contains(t, first.Players, "p")
	assert.True(t, first.Players["p"].Online)
	assert.Equal(t, epoch, first.LastActiveAt)
	binding, bound := sessions.Binding("conn")
	require.True(t, bound)
	assert.Equal(t, first.ID, binding.RoomID)
}

func TestLaneExclusivityUnderChurn(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("churn", 4, epoch)
	now := epoch
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for round := 0; round < 20; round++ {
		now = now.Add(time.Minute)
		for i, id := range ids {
			conn := id + "-conn"
			if (round+i)%3 == 0 {
				sessions.Leave(conn, (round+i)%2 == 0, now)
				continue
			}
			_, _ = sessions.Join(conn, room.ID, id, id, now)
		}
		lanes := map[game.Lane]string{}
		for _, player := range room.Players {
			if player.GraceExpired(now, grace) {
				continue
			}
			if other, taken := lanes[player.Lane]; taken {
				t.Fatalf("round %d: lane %s held by %s and %s", round, player.Lane, other, player.ID)
			}
			lanes[player.Lane] = player.ID
		}
	}
}

func TestForgetRoomUnbindsConnections(t *testing.T) {
	registry, sessions := newSessions(t)
	room, _ := registry.Create("r", 2, epoch)
	_, _ = sessions.Join("a", room.ID, "pa", "A", epoch)
	conns := sessions.ForgetRoom(room.ID)
	assert.Equal(t, []string{"a"}, conns)
	_, bound := sessions.Binding("a")
	assert.False(t, bound)
}
