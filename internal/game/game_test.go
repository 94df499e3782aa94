package game

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveLanesByCapacity(t *testing.T) {
	cases := []struct {
		capacity int
		want     []Lane
	}{
		{2, []Lane{LaneEast, LaneWest}},
		{3, []Lane{LaneEast, LaneWest, LaneNorth}},
		{4, []Lane{LaneEast, LaneWest, LaneNorth, LaneSouth}},
		{1, []Lane{LaneEast, LaneWest}},
		{9, []Lane{LaneEast, LaneWest, LaneNorth, LaneSouth}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ActiveLanes(tc.capacity), "capacity %d", tc.capacity)
	}
}

func TestSlotProgressInsideLane(t *testing.T) {
	for slot := 0; slot < SlotsPerLane; slot++ {
		p := SlotProgress(slot)
		if p <= 0 || p >= 1 {
			t.Fatalf("slot %d progress %.3f outside lane", slot, p)
		}
	}
	assert.False(t, ValidSlot(-1))
	assert.False(t, ValidSlot(SlotsPerLane))
}

func TestTowerCatalogLoaded(t *testing.T) {
	require.Equal(t, []TowerType{TowerBolt, TowerSnare, TowerCannon, TowerObelisk}, TowerTypes())

	bolt, ok := LookupTower(TowerBolt)
	require.True(t, ok)
	assert.Equal(t, 60, bolt.Cost)
	assert.Equal(t, 34, bolt.RefundAmount())

	snare, ok := LookupTower(TowerSnare)
	require.True(t, ok)
	assert.True(t, snare.IsSnare())
	assert.InDelta(t, 0.55, snare.Slow, 1e-9)

	obelisk, _ := LookupTower(TowerObelisk)
	assert.InDelta(t, 0.06, obelisk.Splash, 1e-9)

	for _, towerType := range TowerTypes() {
		spec, _ := LookupTower(towerType)
		fraction := float64(spec.RefundAmount()) / float64(spec.Cost)
		assert.True(t, fraction >= 0.54 && fraction <= 0.58, "%s refund fraction %.3f", towerType, fraction)
	}
}

func TestParseTowerCatalogRejectsBadRefund(t *testing.T) {
	_, err := parseTowerCatalog([]byte(`
towers:
  - type: bolt
    cost: 60
    damage: 10
    range: 0.2
    reload: 1
    refund: 0.9
    maxHp: 10
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refund")
}

func TestSpawnWeightsGrowWithWave(t *testing.T) {
	for _, archetype := range drawOrder {
		prev := archetype.Weight(1)
		for wave := 2; wave <= 60; wave++ {
			weight := archetype.Weight(wave)
			if weight < prev {
				t.Fatalf("%s weight dropped at wave %d: %.3f < %.3f", archetype.Kind, wave, weight, prev)
			}
			prev = weight
		}
	}
	assert.Zero(t, drawOrder[5].Weight(9), "crusher locked before its unlock wave")
}

func TestDrawKindCoversRange(t *testing.T) {
	assert.Equal(t, KindBat, DrawKind(1, 0))
	assert.Equal(t, KindHopper, DrawKind(1, 0.99))

	seen := map[EnemyKind]bool{}
	for i := 0; i < 1000; i++ {
		seen[DrawKind(20, float64(i)/1000)] = true
	}
	for _, kind := range []EnemyKind{KindBat, KindHopper, KindBrute, KindElder, KindRaider, KindCrusher} {
		assert.True(t, seen[kind], "expected %s to be drawable at wave 20", kind)
	}
	assert.False(t, seen[KindLord])
}

func TestForcedLords(t *testing.T) {
	cases := map[int]int{1: 0, 9: 0, 10: 1, 20: 1, 25: 0, 30: 2, 35: 1, 40: 2}
	for wave, want := range cases {
		assert.Equal(t, want, ForcedLords(wave), "wave %d", wave)
	}
}

func TestDifficultyCurvesHaveThreeRegimes(t *testing.T) {
	curves := map[string]func(int) float64{
		"hp":     HPScale,
		"speed":  SpeedScale,
		"reward": RewardScale,
	}
	for name, fn := range curves {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, 1.0, fn(1), 1e-9)
			// Continuous at the regime boundaries, and never flattening
			// when a new regime takes over.
			for _, boundary := range []int{earlyWaveLimit, lateWaveLimit} {
				before := fn(boundary) - fn(boundary-1)
				after := fn(boundary+1) - fn(boundary)
				assert.Greater(t, after, 0.0)
				assert.Less(t, after, 2.0)
				assert.GreaterOrEqual(t, after, before)
			}
			// Early regime is linear.
			early1 := fn(3) - fn(2)
			early2 := fn(9) - fn(8)
			assert.InDelta(t, early1, early2, 1e-9)
			// Later regimes accelerate.
			late1 := fn(12) - fn(11)
			late2 := fn(13) - fn(12)
			late3 := fn(25) - fn(24)
			assert.Greater(t, late2, late1)
			assert.Greater(t, late3, late2)
			ext1 := fn(27) - fn(26)
			ext2 := fn(33) - fn(32)
			assert.Greater(t, ext2, ext1)
		})
	}
}

func TestSpeedScaleCapped(t *testing.T) {
	assert.InDelta(t, 1.0, SpeedScale(1), 1e-9)
	assert.LessOrEqual(t, SpeedScale(500), maxSpeedScale)
	assert.Greater(t, SpeedScale(30), SpeedScale(20))
}

func TestWaveSchedule(t *testing.T) {
	assert.Equal(t, 5, SpawnCredits(1))
	assert.Equal(t, 15, SpawnCredits(9))
	assert.InDelta(t, 1.17, SpawnInterval(1), 1e-9)
	assert.InDelta(t, 0.35, SpawnInterval(100), 1e-9)
	assert.Equal(t, 22, WaveClearBonus(1))
}

func TestEnemySnareAndDecay(t *testing.T) {
	enemy := NewEnemy(1, LaneEast, KindBat, 1)
	assert.Equal(t, 1.0, enemy.MovementFactor())
	enemy.ApplySnare(0.55, 1.25, 2.2)
	assert.Equal(t, 0.55, enemy.MovementFactor())
	assert.Equal(t, 1.25, enemy.DamageFactor())

	for i := 0; i < 23; i++ {
		enemy.DecayEffects(0.1)
	}
	assert.Equal(t, 1.0, enemy.MovementFactor())
	assert.Equal(t, 1.0, enemy.DamageFactor())
	assert.Zero(t, enemy.SlowTimer)
}

func TestActionRingEvictsOldest(t *testing.T) {
	ring := NewActionRing(RecentActionLimit)
	for i := 0; i < RecentActionLimit+10; i++ {
		ring.Add(ActionRecord{ActionID: fmt.Sprintf("a-%d", i), Lane: LaneEast, Kind: ActionBuild})
	}
	require.Equal(t, RecentActionLimit, ring.Len())
	assert.False(t, ring.Contains("a-0"))
	assert.False(t, ring.Contains("a-9"))
	assert.True(t, ring.Contains("a-10"))
	assert.True(t, ring.Contains(fmt.Sprintf("a-%d", RecentActionLimit+9)))

	records := ring.Records()
	assert.Equal(t, "a-10", records[0].ActionID)
	assert.Equal(t, fmt.Sprintf("a-%d", RecentActionLimit+9), records[len(records)-1].ActionID)
}

func TestActionRingIgnoresDuplicates(t *testing.T) {
	ring := NewActionRing(4)
	ring.Add(ActionRecord{ActionID: "x"})
	ring.Add(ActionRecord{ActionID: "x"})
	ring.Add(ActionRecord{})
	assert.Equal(t, 1, ring.Len())
}

func TestNewRoomStartsWaveOne(t *testing.T) {
	now := time.Unix(1700000000, 0)
	room, err := NewRoom("ABCDEFGH", "  ", 3, now)
	require.NoError(t, err)
	assert.Equal(t, "Room ABCDEFGH", room.Name)
	assert.Equal(t, StartingCoreHP, room.CoreHP)
	assert.Equal(t, StartingGold, room.TeamGold)
	assert.Equal(t, 1, room.Wave)
	assert.Equal(t, WaveSpawning, room.WaveState)
	assert.Equal(t, PhaseRunning, room.Phase)
	assert.Equal(t, FirstSpawnDelay, room.SpawnTimer)
	assert.Len(t, room.Towers, 3)
	assert.Equal(t, 3*SpawnCredits(1), room.RemainingCredits())

	_, err = NewRoom("X", "", 5, now)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestResetRunKeepsPlayers(t *testing.T) {
	now := time.Unix(1700000000, 0)
	room, err := NewRoom("R", "r", 2, now)
	require.NoError(t, err)
	player := NewPlayer("p1", "Ann", LaneEast, now)
	player.Kills = 7
	room.Players[player.ID] = player
	room.SetTower(LaneEast, 2, &Tower{Type: TowerBolt, Owner: "p1"})
	room.CoreHP = 0
	room.Phase = PhaseDefeat
	room.WaveState = WaveEnded
	room.Wave = 12

	room.ResetRun()

	assert.Equal(t, PhaseRunning, room.Phase)
	assert.Equal(t, 1, room.Wave)
	assert.Equal(t, StartingCoreHP, room.CoreHP)
	assert.Zero(t, room.TowerCount())
	assert.Equal(t, 7, room.Players["p1"].Kills)
}

func TestNormalizeNameCapsLength(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	got := NormalizeName(long, "x")
	assert.Equal(t, MaxNameLength, len([]rune(got)))
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("ROOM2345"))
	assert.False(t, ValidRoomCode(""))
	assert.False(t, ValidRoomCode("room2345"))
	assert.False(t, ValidRoomCode("ROOM-234"))
	assert.False(t, ValidRoomCode("ABCDEFGHJKLMNPQRS"))
}
