package game

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// WaveState is the wave progression state of a room.
type WaveState string

const (
	WaveSpawning WaveState = "spawning"
	WaveCooldown WaveState = "cooldown"
	WaveEnded    WaveState = "ended"
)

// Phase is the outcome state of a run.
type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseDefeat  Phase = "defeat"
)

const (
	StartingCoreHP = 100
	StartingGold   = 150
	// FirstSpawnDelay is the delay in seconds before a wave's first spawn round.
	FirstSpawnDelay = 1.5
	// WaveCooldownSeconds is the pause between a cleared wave and the next.
	WaveCooldownSeconds = 3.8
	MaxNameLength       = 32
	MaxRoomCodeLength   = 16
)

// Tower is a built tower occupying one slot.
type Tower struct {
	Type     TowerType
	Owner    string
	HP       float64
	MaxHP    float64
	Cooldown float64
}

// Player is a member of a room. Offline players keep their lane until the
// grace period elapses.
type Player struct {
	ID           string
	Name         string
	Lane         Lane
	Online       bool
	JoinedAt     time.Time
	LastSeenAt   time.Time
	OfflineSince time.Time
	Kills        int
	Builds       int
	Recent       *ActionRing
}

// NewPlayer creates an online player bound to lane.
func NewPlayer(id, name string, lane Lane, now time.Time) *Player {
	return &Player{
		ID:         id,
		Name:       name,
		Lane:       lane,
		Online:     true,
		JoinedAt:   now,
		LastSeenAt: now,
		Recent:     NewActionRing(RecentActionLimit),
	}
}

// MarkOffline starts the player's grace window.
func (p *Player) MarkOffline(now time.Time) {
	p.Online = false
	p.OfflineSince = now
	p.LastSeenAt = now
}

// MarkOnline ends the grace window.
func (p *Player) MarkOnline(now time.Time) {
	p.Online = true
	p.OfflineSince = time.Time{}
	p.LastSeenAt = now
}

// GraceExpired reports whether an offline player has outlived grace.
func (p *Player) GraceExpired(now time.Time, grace time.Duration) bool {
	if p.Online {
		return false
	}
	return !now.Before(p.OfflineSince.Add(grace))
}

// LaneSlots holds the towers of one lane, nil for empty slots.
type LaneSlots [SlotsPerLane]*Tower

// Room is the authoritative state of one game session.
type Room struct {
	ID          string
	Name        string
	MaxPlayers  int
	ActiveLanes []Lane

	CoreHP       int
	CoreHPMax    int
	TeamGold     int
	Wave         int
	WaveState    WaveState
	WaveTimer    float64
	SpawnTimer   float64
	SpawnCredits map[Lane]int
	Phase        Phase

	Towers      map[Lane]*LaneSlots
	Enemies     []*Enemy
	Players     map[string]*Player
	NextEnemyID uint64

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// NewRoom builds a room on wave 1.
func NewRoom(id, name string, capacity int, now time.Time) (*Room, error) {
	if !ValidCapacity(capacity) {
		return nil, ErrInvalidCapacity
	}
	room := &Room{
		ID:           id,
		Name:         NormalizeName(name, "Room "+id),
		MaxPlayers:   capacity,
		ActiveLanes:  ActiveLanes(capacity),
		Players:      make(map[string]*Player),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	room.ResetRun()
	return room, nil
}

// ValidRoomCode reports whether id looks like a room code: upper-case
// letters and digits, at most MaxRoomCodeLength long.
func ValidRoomCode(id string) bool {
	if id == "" || len(id) > MaxRoomCodeLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// NormalizeName trims a display name and caps its length, falling back when
// nothing is left.
func NormalizeName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return name
}

// ResetRun starts a fresh run. Player records are kept.
func (r *Room) ResetRun() {
	r.CoreHPMax = StartingCoreHP
	r.CoreHP = StartingCoreHP
	r.TeamGold = StartingGold
	r.Phase = PhaseRunning
	r.Enemies = nil
	r.Towers = make(map[Lane]*LaneSlots, len(r.ActiveLanes))
	for _, lane := range r.ActiveLanes {
		r.Towers[lane] = &LaneSlots{}
	}
	r.StartWave(1)
}

// StartWave enters the spawning state of wave.
func (r *Room) StartWave(wave int) {
	r.Wave = wave
	r.WaveState = WaveSpawning
	r.WaveTimer = 0
	r.SpawnTimer = FirstSpawnDelay
	credits := SpawnCredits(wave)
	r.SpawnCredits = make(map[Lane]int, len(r.ActiveLanes))
	for _, lane := range r.ActiveLanes {
		r.SpawnCredits[lane] = credits
	}
}

// RemainingCredits sums spawn credits left across lanes.
func (r *Room) RemainingCredits() int {
	total := 0
	for _, lane := range r.ActiveLanes {
		total += r.SpawnCredits[lane]
	}
	return total
}

// HasLane reports whether lane is active in the room.
func (r *Room) HasLane(lane Lane) bool {
	return ContainsLane(r.ActiveLanes, lane)
}

// TowerAt returns the tower at (lane, slot) or nil.
func (r *Room) TowerAt(lane Lane, slot int) *Tower {
	slots, ok := r.Towers[lane]
	if !ok || !ValidSlot(slot) {
		return nil
	}
	return slots[slot]
}

// SetTower places or clears a slot. Inactive lanes are ignored.
func (r *Room) SetTower(lane Lane, slot int, tower *Tower) {
	slots, ok := r.Towers[lane]
	if !ok || !ValidSlot(slot) {
		return
	}
	slots[slot] = tower
}

// TowerCount counts built towers.
func (r *Room) TowerCount() int {
	count := 0
	for _, slots := range r.Towers {
		for _, tower := range slots {
			if tower != nil {
				count++
			}
		}
	}
	return count
}

// OnlineCount counts connected players.
func (r *Room) OnlineCount() int {
	count := 0
	for _, player := range r.Players {
		if player.Online {
			count++
		}
	}
	return count
}

// LaneOwner returns the player record assigned to lane, if any.
func (r *Room) LaneOwner(lane Lane) *Player {
	for _, player := range r.Players {
		if player.Lane == lane {
			return player
		}
	}
	return nil
}

// SortedPlayers lists players in lane order.
func (r *Room) SortedPlayers() []*Player {
	players := make([]*Player, 0, len(r.Players))
	for _, player := range r.Players {
		players = append(players, player)
	}
	sort.Slice(players, func(i, j int) bool {
		li, lj := laneIndex(players[i].Lane), laneIndex(players[j].Lane)
		if li != lj {
			return li < lj
		}
		return players[i].ID < players[j].ID
	})
	return players
}

func laneIndex(lane Lane) int {
	for i, candidate := range laneOrder {
		if candidate == lane {
			return i
		}
	}
	return len(laneOrder)
}

// Summary is the lobby view of a room.
type Summary struct {
	ID         string
	Name       string
	MaxPlayers int
	Online     int
	Players    int
	Lanes      []Lane
	Wave       int
	Phase      Phase
}

// Summary projects the room for the lobby.
func (r *Room) Summary() Summary {
	lanes := make([]Lane, len(r.ActiveLanes))
	copy(lanes, r.ActiveLanes)
	return Summary{
		ID:         r.ID,
		Name:       r.Name,
		MaxPlayers: r.MaxPlayers,
		Online:     r.OnlineCount(),
		Players:    len(r.Players),
		Lanes:      lanes,
		Wave:       r.Wave,
		Phase:      r.Phase,
	}
}
