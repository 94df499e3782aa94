// Package persist turns room state into durable snapshot documents and back,
// and writes them to a store off the simulation goroutine.
package persist

import (
	"encoding/json"
	"math"
	"time"

	"towerdefense/server/internal/game"
)

// DocumentVersion is the snapshot schema written by this build.
const DocumentVersion = 1

// Number is a persisted numeric field. It is wide enough that out-of-range
// or fractional values survive decoding, and a value of the wrong JSON type
// decodes to NaN instead of failing its record; hydration replaces either
// with the field's default and reports it.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*n = Number(math.NaN())
		return nil
	}
	*n = Number(v)
	return nil
}

// Document is the persisted form of every room.
type Document struct {
	Version Number       `json:"version"`
	SavedAt Number       `json:"savedAt"`
	Rooms   []RoomRecord `json:"rooms"`
}

// RoomHeader holds the scalar fields of a room.
type RoomHeader struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	MaxPlayers   Number            `json:"maxPlayers"`
	CoreHP       Number            `json:"coreHp"`
	CoreHPMax    Number            `json:"coreHpMax"`
	TeamGold     Number            `json:"teamGold"`
	Wave         Number            `json:"wave"`
	WaveState    string            `json:"waveState"`
	WaveTimer    Number            `json:"waveTimer"`
	SpawnTimer   Number            `json:"spawnTimer"`
	SpawnCredits map[string]Number `json:"spawnCredits"`
	Phase        string            `json:"phase"`
	CreatedAt    Number            `json:"createdAt"`
	LastActiveAt Number            `json:"lastActiveAt"`
	NextEnemyID  Number            `json:"nextEnemyId"`
}

// RoomRecord is one room with its towers, players and enemies.
type RoomRecord struct {
	RoomHeader
	Lanes   map[string][]*TowerRecord `json:"lanes"`
	Players []PlayerRecord            `json:"players"`
	Enemies []EnemyRecord             `json:"enemies"`
}

// TowerRecord is a built tower; a nil entry in a lane is an empty slot.
type TowerRecord struct {
	Type     string `json:"type"`
	Owner    string `json:"owner"`
	HP       Number `json:"hp"`
	MaxHP    Number `json:"maxHp"`
	Cooldown Number `json:"cooldown"`
}

// PlayerRecord is a room member. Online status is never persisted.
type PlayerRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Lane          string         `json:"lane"`
	JoinedAt      Number         `json:"joinedAt"`
	LastSeenAt    Number         `json:"lastSeenAt"`
	Kills         Number         `json:"kills"`
	Builds        Number         `json:"builds"`
	RecentActions []ActionRecord `json:"recentActions"`
}

// ActionRecord is one entry of a player's dedup window.
type ActionRecord struct {
	ActionID string `json:"actionId"`
	Lane     string `json:"lane"`
	Slot     Number `json:"slot"`
	Kind     string `json:"kind"`
}

// EnemyRecord is a live enemy.
type EnemyRecord struct {
	ID               Number `json:"id"`
	Lane             string `json:"lane"`
	Kind             string `json:"kind"`
	Progress         Number `json:"progress"`
	HP               Number `json:"hp"`
	MaxHP            Number `json:"maxHp"`
	Speed            Number `json:"speed"`
	Reward           Number `json:"reward"`
	CoreDamage       Number `json:"coreDamage"`
	SlowMultiplier   Number `json:"slowMultiplier"`
	SlowTimer        Number `json:"slowTimer"`
	WeakenMultiplier Number `json:"weakenMultiplier"`
	WeakenTimer      Number `json:"weakenTimer"`
}

func unixMillis(t time.Time) Number {
	if t.IsZero() {
		return 0
	}
	return Number(t.UnixMilli())
}

// Capture copies rooms into a new document. The result shares no memory
// with the rooms and may be handed to another goroutine.
func Capture(rooms []*game.Room, now time.Time) Document {
	doc := Document{
		Version: DocumentVersion,
		SavedAt: unixMillis(now),
		Rooms:   make([]RoomRecord, 0, len(rooms)),
	}
	for _, room := range rooms {
		doc.Rooms = append(doc.Rooms, captureRoom(room))
	}
	return doc
}

func captureRoom(room *game.Room) RoomRecord {
	record := RoomRecord{
		RoomHeader: RoomHeader{
			ID:           room.ID,
			Name:         room.Name,
			MaxPlayers:   Number(room.MaxPlayers),
			CoreHP:       Number(room.CoreHP),
			CoreHPMax:    Number(room.CoreHPMax),
			TeamGold:     Number(room.TeamGold),
			Wave:         Number(room.Wave),
			WaveState:    string(room.WaveState),
			WaveTimer:    Number(room.WaveTimer),
			SpawnTimer:   Number(room.SpawnTimer),
			SpawnCredits: make(map[string]Number, len(room.SpawnCredits)),
			Phase:        string(room.Phase),
			CreatedAt:    unixMillis(room.CreatedAt),
			LastActiveAt: unixMillis(room.LastActiveAt),
			NextEnemyID:  Number(room.NextEnemyID),
		},
		Lanes:   make(map[string][]*TowerRecord, len(room.ActiveLanes)),
		Players: make([]PlayerRecord, 0, len(room.Players)),
		Enemies: make([]EnemyRecord, 0, len(room.Enemies)),
	}
	for lane, credits := range room.SpawnCredits {
		record.SpawnCredits[string(lane)] = Number(credits)
	}
	for _, lane := range room.ActiveLanes {
		slots := make([]*TowerRecord, game.SlotsPerLane)
		if laneSlots := room.Towers[lane]; laneSlots != nil {
			for i, tower := range laneSlots {
				if tower == nil {
					continue
				}
				slots[i] = &TowerRecord{
					Type:     string(tower.Type),
					Owner:    tower.Owner,
					HP:       Number(tower.HP),
					MaxHP:    Number(tower.MaxHP),
					Cooldown: Number(tower.Cooldown),
				}
			}
		}
		record.Lanes[string(lane)] = slots
	}
	for _, player := range room.SortedPlayers() {
		record.Players = append(record.Players, capturePlayer(player))
	}
	for _, enemy := range room.Enemies {
		record.Enemies = append(record.Enemies, EnemyRecord{
			ID:               Number(enemy.ID),
			Lane:             string(enemy.Lane),
			Kind:             string(enemy.Kind),
			Progress:         Number(enemy.Progress),
			HP:               Number(enemy.HP),
			MaxHP:            Number(enemy.MaxHP),
			Speed:            Number(enemy.Speed),
			Reward:           Number(enemy.Reward),
			CoreDamage:       Number(enemy.CoreDamage),
			SlowMultiplier:   Number(enemy.SlowMultiplier),
			SlowTimer:        Number(enemy.SlowTimer),
			WeakenMultiplier: Number(enemy.WeakenMultiplier),
			WeakenTimer:      Number(enemy.WeakenTimer),
		})
	}
	return record
}

func capturePlayer(player *game.Player) PlayerRecord {
	record := PlayerRecord{
		ID:         player.ID,
		Name:       player.Name,
		Lane:       string(player.Lane),
		JoinedAt:   unixMillis(player.JoinedAt),
		LastSeenAt: unixMillis(player.LastSeenAt),
		Kills:      Number(player.Kills),
		Builds:     Number(player.Builds),
	}
	for _, action := range player.Recent.Records() {
		record.RecentActions = append(record.RecentActions, ActionRecord{
			ActionID: action.ActionID,
			Lane:     string(action.Lane),
			Slot:     Number(action.Slot),
			Kind:     string(action.Kind),
		})
	}
	return record
}
