package persist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"towerdefense/server/internal/game"
	"towerdefense/server/internal/telemetry"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRoom(t *testing.T) *game.Room {
	t.Helper()
	room, err := game.NewRoom("ABCD2345", "Alpha", 3, epoch)
	require.NoError(t, err)
	room.TeamGold = 420
	room.Wave = 7
	room.CoreHP = 64
	room.SpawnCredits[game.LaneWest] = 3
	room.NextEnemyID = 41

	ann := game.NewPlayer("ann", "Ann", game.LaneEast, epoch)
	ann.Kills = 18
	ann.Builds = 5
	ann.Recent.Add(game.ActionRecord{ActionID: "a-1", Lane: game.LaneEast, Slot: 2, Kind: game.ActionBuild})
	ann.Recent.Add(game.ActionRecord{ActionID: "a-2", Lane: game.LaneEast, Slot: 2, Kind: game.ActionSell})
	room.Players[ann.ID] = ann
	bo := game.NewPlayer("bo", "Bo", game.LaneNorth, epoch.Add(time.Second))
	room.Players[bo.ID] = bo

	room.SetTower(game.LaneEast, 0, &game.Tower{Type: game.TowerCannon, Owner: "ann", HP: 150, MaxHP: 160, Cooldown: 0.4})
	room.SetTower(game.LaneNorth, 7, &game.Tower{Type: game.TowerSnare, Owner: "bo", HP: 110, MaxHP: 110})

	enemy := game.NewEnemy(40, game.LaneWest, game.KindBrute, room.Wave)
	enemy.Progress = 0.37
	enemy.HP = enemy.MaxHP / 2
	enemy.ApplySnare(0.55, 1.25, 1.5)
	room.Enemies = append(room.Enemies, enemy, game.NewEnemy(41, game.LaneEast, game.KindBat, room.Wave))
	return room
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		room := sampleRoom(t)
		doc := Capture([]*game.Room{room}, epoch.Add(time.Minute))
		data, err := Encode(doc, compress)
		require.NoError(t, err)
		assert.Equal(t, compress, Compressed(data))

		now := epoch.Add(time.Hour)
		rooms, report, err := Decode(data, now)
		require.NoError(t, err)
		require.True(t, report.Clean(), "issues: %+v", report.Issues)
		require.Len(t, rooms, 1)
		got := rooms[0]

		assert.Equal(t, room.ID, got.ID)
		assert.Equal(t, room.Name, got.Name)
		assert.Equal(t, room.ActiveLanes, got.ActiveLanes)
		assert.Equal(t, 420, got.TeamGold)
		assert.Equal(t, 7, got.Wave)
		assert.Equal(t, 64, got.CoreHP)
		assert.Equal(t, room.SpawnCredits, got.SpawnCredits)
		assert.Equal(t, room.SpawnTimer, got.SpawnTimer)
		assert.Equal(t, uint64(41), got.NextEnemyID)
		assert.True(t, room.CreatedAt.Equal(got.CreatedAt))

		assert.Equal(t, *room.TowerAt(game.LaneEast, 0), *got.TowerAt(game.LaneEast, 0))
		assert.Equal(t, *room.TowerAt(game.LaneNorth, 7), *got.TowerAt(game.LaneNorth, 7))
		assert.Equal(t, 2, got.TowerCount())

		require.Len(t, got.Enemies, 2)
		assert.Equal(t, *room.Enemies[0], *got.Enemies[0])
		assert.Equal(t, *room.Enemies[1], *got.Enemies[1])

		ann := got.Players["ann"]
		require.NotNil(t, ann)
		assert.False(t, ann.Online)
		assert.True(t, ann.OfflineSince.Equal(now))
		assert.True(t, ann.LastSeenAt.Equal(epoch))
		assert.Equal(t, 18, ann.Kills)
		assert.Equal(t, 5, ann.Builds)
		assert.Equal(t, game.LaneEast, ann.Lane)
		assert.Equal(t, room.Players["ann"].Recent.Records(), ann.Recent.Records())
		assert.Equal(t, game.LaneNorth, got.Players["bo"].Lane)
	}
}

func TestCaptureIsDetached(t *testing.T) {
	room := sampleRoom(t)
	doc := Capture([]*game.Room{room}, epoch)
	room.TeamGold = 1
	room.SetTower(game.LaneEast, 0, nil)
	room.Enemies[0].HP = 0

	assert.Equal(t, Number(420), doc.Rooms[0].TeamGold)
	assert.NotNil(t, doc.Rooms[0].Lanes["east"][0])
	assert.NotZero(t, doc.Rooms[0].Enemies[0].HP)
}

func TestHydrateRejectsFutureVersion(t *testing.T) {
	_, _, err := Hydrate([]byte(`{"version":2,"rooms":[]}`), epoch)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, report, err := Hydrate([]byte(`{"rooms":[]}`), epoch)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "version", report.Issues[0].Field)
}

func TestHydrateRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte("not json"), epoch)
	assert.Error(t, err)
}

func TestHydrateClampsCorruptValues(t *testing.T) {
	corrupt := `{
		"version": 1,
		"rooms": [
			{"id": "", "name": "nameless"},
			{
				"id": "wxyz2345", "name": "  ", "maxPlayers": 9, "coreHp": 500, "coreHpMax": 100,
				"teamGold": -40, "wave": 2.4, "waveState": "exploding", "phase": "victory",
				"spawnTimer": 99, "spawnCredits": {"east": 1000, "up": 3},
				"nextEnemyId": 1,
				"lanes": {
					"east": [{"type": "laser", "hp": 10}, {"type": "bolt", "hp": 999, "maxHp": 120, "cooldown": -1}, "junk"],
					"sideways": [{"type": "bolt"}]
				},
				"players": [
					{"id": "p1", "name": "One", "lane": "east", "kills": -3,
					 "recentActions": [{"actionId": "ok", "lane": "east", "slot": 1, "kind": "build"},
					                   {"actionId": "bad", "lane": "east", "slot": 12, "kind": "build"},
					                   {"actionId": "", "lane": "east", "slot": 1, "kind": "sell"}]},
					{"id": "p1", "lane": "west"},
					{"id": "p2", "lane": "east"},
					{"id": "p3", "lane": "south", "lastSeenAt": 99999999999999}
				],
				"enemies": [
					{"id": 5, "lane": "east", "kind": "bat", "hp": 10, "maxHp": 10, "speed": 7, "progress": -1},
					{"id": 5, "lane": "east", "kind": "bat", "hp": 10, "maxHp": 10, "speed": 0.1},
					{"id": 9, "lane": "east", "kind": "dragon", "hp": 10},
					{"id": 10, "lane": "west", "kind": "lord", "hp": 0}
				]
			},
			{"id": "WXYZ2345"}
		]
	}`
	now := epoch
	rooms, report, err := Hydrate([]byte(corrupt), now)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, 2, report.RoomsDropped)
	assert.False(t, report.Clean())

	room := rooms[0]
	assert.Equal(t, "WXYZ2345", room.ID)
	assert.Equal(t, "Room WXYZ2345", room.Name)
	assert.Equal(t, game.MaxPlayers, room.MaxPlayers)
	assert.Equal(t, 100, room.CoreHP)
	assert.Equal(t, 0, room.TeamGold)
	assert.Equal(t, 2, room.Wave)
	assert.Equal(t, game.PhaseRunning, room.Phase)
	assert.Equal(t, game.WaveSpawning, room.WaveState)
	assert.Equal(t, game.SpawnCredits(2), room.SpawnCredits[game.LaneEast])
	assert.LessOrEqual(t, room.SpawnTimer, game.FirstSpawnDelay)

	assert.Nil(t, room.TowerAt(game.LaneEast, 0))
	bolt := room.TowerAt(game.LaneEast, 1)
	require.NotNil(t, bolt)
	assert.Equal(t, 120.0, bolt.HP)
	assert.Zero(t, bolt.Cooldown)
	assert.Equal(t, 1, room.TowerCount())

	require.Len(t, room.Players, 2)
	p1 := room.Players["p1"]
	require.NotNil(t, p1)
	assert.Equal(t, game.LaneEast, p1.Lane)
	assert.Zero(t, p1.Kills)
	assert.Equal(t, 1, p1.Recent.Len())
	assert.True(t, p1.Recent.Contains("ok"))
	p3 := room.Players["p3"]
	require.NotNil(t, p3)
	assert.True(t, p3.LastSeenAt.Equal(now))

	require.Len(t, room.Enemies, 2)
	assert.Equal(t, uint64(5), room.Enemies[0].ID)
	assert.Equal(t, 1.0, room.Enemies[0].Speed)
	assert.Zero(t, room.Enemies[0].Progress)
	assert.Equal(t, uint64(6), room.Enemies[1].ID)
	assert.Equal(t, uint64(6), room.NextEnemyID)

	fields := map[string]bool{}
	for _, issue := range report.Issues {
		fields[issue.Field] = true
	}
	for _, field := range []string{"id", "maxPlayers", "teamGold", "wave", "phase", "waveState", "spawnCredits.up", "lanes.sideways", "enemies[1].id", "nextEnemyId"} {
		assert.True(t, fields[field], "missing issue for %s", field)
	}
}

func TestHydrateDefaultsWrongTypedNumbers(t *testing.T) {
	data := `{"version": 1, "rooms": [{
		"id": "ROOM2345", "maxPlayers": 2, "coreHp": "x", "coreHpMax": 100,
		"teamGold": true, "wave": {"n": 3}, "phase": "running", "waveState": "spawning",
		"createdAt": 1e300, "lastActiveAt": "yesterday",
		"players": [{"id": "p1", "lane": "east", "kills": "many", "joinedAt": -5}]
	}]}`
	rooms, report, err := Hydrate([]byte(data), epoch)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Zero(t, report.RoomsDropped)

	room := rooms[0]
	assert.Equal(t, 100, room.CoreHP)
	assert.Equal(t, game.StartingGold, room.TeamGold)
	assert.Equal(t, 1, room.Wave)
	assert.Equal(t, game.PhaseRunning, room.Phase)
	assert.True(t, room.CreatedAt.Equal(epoch))
	assert.True(t, room.LastActiveAt.Equal(epoch))
	require.Contains(t, room.Players, "p1")
	assert.Zero(t, room.Players["p1"].Kills)
	assert.True(t, room.Players["p1"].JoinedAt.Equal(epoch))

	problems := map[string]string{}
	for _, issue := range report.Issues {
		problems[issue.Field] = issue.Problem
	}
	assert.Contains(t, problems["coreHp"], "not a number")
	assert.Contains(t, problems["teamGold"], "not a number")
	assert.Contains(t, problems["wave"], "not a number")
	assert.Contains(t, problems["createdAt"], "future")
	assert.Contains(t, problems["lastActiveAt"], "not a number")
	assert.Contains(t, problems["players[0].kills"], "not a number")
	assert.Contains(t, problems["players[0].joinedAt"], "before the epoch")
}

func TestHydrateDefeatForcesEndedWave(t *testing.T) {
	room := sampleRoom(t)
	room.CoreHP = 0
	doc := Capture([]*game.Room{room}, epoch)
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	rooms, report, err := Hydrate(data, epoch)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, game.PhaseDefeat, rooms[0].Phase)
	assert.Equal(t, game.WaveEnded, rooms[0].WaveState)
	assert.False(t, report.Clean())
}

func TestUnwrapDetectsLZ4(t *testing.T) {
	plain := []byte(`{"version":1}`)
	out, err := Unwrap(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	packed, err := Encode(Document{Version: DocumentVersion}, true)
	require.NoError(t, err)
	assert.Equal(t, lz4Magic, packed[:4])
	out, err = Unwrap(packed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"savedAt":0,"rooms":null}`, string(out))

	_, err = Unwrap(append(append([]byte{}, lz4Magic...), 0xFF, 0x00))
	assert.Error(t, err)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, []byte("first")))
	require.NoError(t, store.Save(ctx, []byte("second")))
	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	rooms, _, err := Load(ctx, store, epoch)
	assert.Error(t, err)
	assert.Nil(t, rooms)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := OpenStore(context.Background(), StoreConfig{Driver: "file", URL: dir, Key: "snap.json"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
	assert.Equal(t, "snap.json", entries[0].Name())
}

func TestSQLStoreSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "snapshots.db")
	store, err := OpenStore(context.Background(), StoreConfig{Driver: "sql", SQLDialect: "sqlite", URL: dsn})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestSQLStoreMigrationFailureReleasesDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "snapshots.db")
	setup, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, setup.Exec("CREATE VIEW snapshots AS SELECT 1 AS name").Error)
	require.NoError(t, closeDB(setup))

	_, err = NewSQLStore("sqlite", dsn, "k")
	assert.ErrorContains(t, err, "migrate sql store")

	cleanup, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, cleanup.Exec("DROP VIEW snapshots").Error)
	require.NoError(t, closeDB(cleanup))

	store, err := NewSQLStore("sqlite", dsn, "k")
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TD_TEST_REDIS_URL not set")
	}
	key := "td-test-" + time.Now().Format("150405.000000000")
	store, err := OpenStore(context.Background(), StoreConfig{Driver: "redis", URL: url, Key: key})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
	require.NoError(t, store.(*RedisStore).client.Del(context.Background(), key).Err())
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), StoreConfig{Driver: "tape"})
	assert.Error(t, err)

	store, err := OpenStore(context.Background(), StoreConfig{Driver: "none"})
	require.NoError(t, err)
	rooms, report, err := Load(context.Background(), store, epoch)
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.True(t, report.Clean())
}

type recordingStore struct {
	mu      sync.Mutex
	saves   [][]byte
	failN   int
	attempt int
}

func (s *recordingStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	if s.attempt <= s.failN {
		return errors.New("disk on fire")
	}
	s.saves = append(s.saves, append([]byte(nil), data...))
	return nil
}

func (s *recordingStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil, ErrNotFound
	}
	return s.saves[len(s.saves)-1], nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) savedAt() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, 0, len(s.saves))
	for _, data := range s.saves {
		var doc Document
		if err := json.Unmarshal(data, &doc); err == nil {
			out = append(out, float64(doc.SavedAt))
		}
	}
	return out
}

func docAt(ms float64) Document {
	return Document{Version: DocumentVersion, SavedAt: Number(ms)}
}

func TestWriterNewestWins(t *testing.T) {
	store := &recordingStore{}
	counters := telemetry.NewCounters()
	writer := NewWriter(WriterConfig{Store: store, Metrics: counters})

	assert.False(t, writer.Submit(docAt(1)))
	assert.True(t, writer.Submit(docAt(2)))
	assert.True(t, writer.Submit(docAt(3)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go writer.Run(ctx)

	assert.Eventually(t, func() bool { return len(store.savedAt()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{3}, store.savedAt())
	assert.Equal(t, uint64(2), writer.Stats().Superseded)
	assert.Equal(t, uint64(2), counters.Load(metricSuperseded))
	assert.Equal(t, uint64(1), counters.Load(metricSaves))
}

func TestWriterRetriesWithBackoff(t *testing.T) {
	store := &recordingStore{failN: 2}
	writer := NewWriter(WriterConfig{Store: store, RetryBase: time.Millisecond, RetryMax: 4 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go writer.Run(ctx)

	writer.Submit(docAt(7))
	assert.Eventually(t, func() bool { return len(store.savedAt()) == 1 }, time.Second, 5*time.Millisecond)
	stats := writer.Stats()
	assert.Equal(t, uint64(2), stats.Failures)
	assert.Equal(t, uint64(1), stats.Saves)
	assert.Empty(t, stats.LastError)
}

func TestWriterFlushSupersedesPending(t *testing.T) {
	store := &recordingStore{}
	writer := NewWriter(WriterConfig{Store: store})
	writer.Submit(docAt(1))
	require.NoError(t, writer.Flush(context.Background(), docAt(2)))
	assert.Equal(t, []float64{2}, store.savedAt())

	// A document queued before the flush must never overwrite it.
	stale := pendingDoc{seq: 1, doc: docAt(1)}
	require.NoError(t, writer.write(context.Background(), stale))
	assert.Equal(t, []float64{2}, store.savedAt())
}

func TestWriterFlushReportsStoreError(t *testing.T) {
	writer := NewWriter(WriterConfig{Store: &recordingStore{failN: 1}})
	err := writer.Flush(context.Background(), docAt(1))
	assert.EqualError(t, err, "disk on fire")
	assert.Equal(t, "disk on fire", writer.Stats().LastError)
}
