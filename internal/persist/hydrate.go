package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"towerdefense/server/internal/game"
)

// ErrUnsupportedVersion is returned for documents written by a newer build.
var ErrUnsupportedVersion = errors.New("persist: unsupported document version")

// Bounds applied during hydration.
const (
	maxCoreHP       = 10_000
	maxTeamGold     = 10_000_000
	maxWave         = 10_000
	maxCounter      = 1_000_000_000
	maxEnemyHP      = 10_000_000
	maxEnemySpeed   = 1.0
	maxEnemyReward  = 1_000_000
	maxProgress     = 1.5
	maxEffectTimer  = 10.0
	maxWeakenFactor = 3.0
	minSlowFactor   = 0.05
	maxIDLength     = 64
)

// Issue is one sanitization finding.
type Issue struct {
	Room    string `json:"room"`
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// Report collects every clamp and drop made while hydrating a document.
type Report struct {
	Version      int     `json:"version"`
	RoomsLoaded  int     `json:"roomsLoaded"`
	RoomsDropped int     `json:"roomsDropped"`
	Issues       []Issue `json:"issues,omitempty"`
}

// Clean reports whether the document hydrated without corrections.
func (r Report) Clean() bool {
	return r.RoomsDropped == 0 && len(r.Issues) == 0
}

func (r *Report) note(room, field, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Room: room, Field: field, Problem: fmt.Sprintf(format, args...)})
}

type documentEnvelope struct {
	Version Number            `json:"version"`
	SavedAt Number            `json:"savedAt"`
	Rooms   []json.RawMessage `json:"rooms"`
}

type roomEnvelope struct {
	RoomHeader
	Lanes   map[string][]json.RawMessage `json:"lanes"`
	Players []json.RawMessage            `json:"players"`
	Enemies []json.RawMessage            `json:"enemies"`
}

// Hydrate decodes a JSON document into rooms. Malformed records are dropped
// and out-of-range values clamped; each correction is listed in the report.
// Restored players are offline with their grace period starting at now.
func Hydrate(data []byte, now time.Time) ([]*game.Room, Report, error) {
	var report Report
	var doc documentEnvelope
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, report, fmt.Errorf("persist: decode document: %w", err)
	}
	switch {
	case doc.Version > DocumentVersion:
		return nil, report, fmt.Errorf("%w: %v", ErrUnsupportedVersion, doc.Version)
	case doc.Version != DocumentVersion:
		report.note("", "version", "expected %d, got %v", DocumentVersion, doc.Version)
	}
	report.Version = DocumentVersion

	seen := make(map[string]bool, len(doc.Rooms))
	rooms := make([]*game.Room, 0, len(doc.Rooms))
	for i, raw := range doc.Rooms {
		room, ok := hydrateRoom(raw, i, now, seen, &report)
		if !ok {
			report.RoomsDropped++
			continue
		}
		seen[room.ID] = true
		rooms = append(rooms, room)
	}
	report.RoomsLoaded = len(rooms)
	return rooms, report, nil
}

type sanitizer struct {
	report *Report
	room   string
}

func (s sanitizer) note(field, format string, args ...any) {
	s.report.note(s.room, field, format, args...)
}

func (s sanitizer) intIn(field string, n Number, lo, hi, fallback int) int {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.note(field, "not a number, using %d", fallback)
		return fallback
	}
	if v != math.Trunc(v) {
		s.note(field, "fractional value %v rounded", v)
		v = math.Round(v)
	}
	if v < float64(lo) {
		s.note(field, "%v below %d", v, lo)
		return lo
	}
	if v > float64(hi) {
		s.note(field, "%v above %d", v, hi)
		return hi
	}
	return int(v)
}

func (s sanitizer) floatIn(field string, n Number, lo, hi float64) float64 {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		s.note(field, "not a number, using %v", lo)
		return lo
	}
	if v < lo {
		s.note(field, "%v below %v", v, lo)
		return lo
	}
	if v > hi {
		s.note(field, "%v above %v", v, hi)
		return hi
	}
	return v
}

// timestamp reads epoch milliseconds. Zero means unset. The range check
// runs before the integer conversion so huge values cannot wrap around.
func (s sanitizer) timestamp(field string, n Number, now time.Time) time.Time {
	millis := float64(n)
	switch {
	case math.IsNaN(millis):
		s.note(field, "not a number, using now")
		return now
	case millis == 0:
		return now
	case millis < 0:
		s.note(field, "%v before the epoch, using now", millis)
		return now
	case millis > float64(now.UnixMilli()):
		s.note(field, "timestamp in the future")
		return now
	}
	return time.UnixMilli(int64(millis))
}

func hydrateRoom(raw json.RawMessage, index int, now time.Time, seen map[string]bool, report *Report) (*game.Room, bool) {
	label := fmt.Sprintf("#%d", index)
	var env roomEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		report.note(label, "room", "undecodable: %v", err)
		return nil, false
	}
	id := strings.ToUpper(strings.TrimSpace(env.ID))
	if !game.ValidRoomCode(id) {
		report.note(label, "id", "invalid room code %q", env.ID)
		return nil, false
	}
	if seen[id] {
		report.note(id, "id", "duplicate room")
		return nil, false
	}
	s := sanitizer{report: report, room: id}

	capacity := s.intIn("maxPlayers", env.MaxPlayers, game.MinPlayers, game.MaxPlayers, game.MaxPlayers)
	room := &game.Room{
		ID:          id,
		Name:        game.NormalizeName(env.Name, "Room "+id),
		MaxPlayers:  capacity,
		ActiveLanes: game.ActiveLanes(capacity),
		Players:     make(map[string]*game.Player),
	}
	room.CoreHPMax = s.intIn("coreHpMax", env.CoreHPMax, 1, maxCoreHP, game.StartingCoreHP)
	room.CoreHP = s.intIn("coreHp", env.CoreHP, 0, room.CoreHPMax, room.CoreHPMax)
	room.TeamGold = s.intIn("teamGold", env.TeamGold, 0, maxTeamGold, game.StartingGold)
	room.Wave = s.intIn("wave", env.Wave, 1, maxWave, 1)
	hydrateProgression(s, room, env.RoomHeader)
	room.CreatedAt = s.timestamp("createdAt", env.CreatedAt, now)
	room.LastActiveAt = s.timestamp("lastActiveAt", env.LastActiveAt, now)
	if room.LastActiveAt.Before(room.CreatedAt) {
		room.LastActiveAt = room.CreatedAt
	}

	hydrateTowers(s, room, env.Lanes)
	hydratePlayers(s, room, env.Players, now)
	hydrateEnemies(s, room, env.Enemies, env.NextEnemyID)
	return room, true
}

func hydrateProgression(s sanitizer, room *game.Room, header RoomHeader) {
	switch game.Phase(header.Phase) {
	case game.PhaseRunning, game.PhaseDefeat:
		room.Phase = game.Phase(header.Phase)
	default:
		s.note("phase", "unknown phase %q", header.Phase)
		room.Phase = game.PhaseRunning
	}
	if room.CoreHP == 0 && room.Phase == game.PhaseRunning {
		s.note("phase", "core destroyed but phase running")
		room.Phase = game.PhaseDefeat
	}

	switch game.WaveState(header.WaveState) {
	case game.WaveSpawning, game.WaveCooldown, game.WaveEnded:
		room.WaveState = game.WaveState(header.WaveState)
	default:
		s.note("waveState", "unknown wave state %q", header.WaveState)
		room.WaveState = game.WaveSpawning
	}
	if room.Phase == game.PhaseDefeat {
		room.WaveState = game.WaveEnded
	} else if room.WaveState == game.WaveEnded {
		s.note("waveState", "ended while running")
		room.WaveState = game.WaveSpawning
	}

	room.WaveTimer = s.floatIn("waveTimer", header.WaveTimer, 0, game.WaveCooldownSeconds)
	room.SpawnTimer = s.floatIn("spawnTimer", header.SpawnTimer, 0, math.Max(game.FirstSpawnDelay, game.SpawnInterval(room.Wave)))

	limit := game.SpawnCredits(room.Wave)
	room.SpawnCredits = make(map[game.Lane]int, len(room.ActiveLanes))
	for _, lane := range room.ActiveLanes {
		room.SpawnCredits[lane] = s.intIn("spawnCredits."+string(lane), header.SpawnCredits[string(lane)], 0, limit, 0)
	}
	for name := range header.SpawnCredits {
		if lane, ok := game.ParseLane(name); !ok || !room.HasLane(lane) {
			s.note("spawnCredits."+name, "inactive lane dropped")
		}
	}
}

func hydrateTowers(s sanitizer, room *game.Room, lanes map[string][]json.RawMessage) {
	room.Towers = make(map[game.Lane]*game.LaneSlots, len(room.ActiveLanes))
	for _, lane := range room.ActiveLanes {
		room.Towers[lane] = &game.LaneSlots{}
	}
	for name, slots := range lanes {
		lane, ok := game.ParseLane(name)
		if !ok || !room.HasLane(lane) {
			s.note("lanes."+name, "inactive lane dropped")
			continue
		}
		if len(slots) > game.SlotsPerLane {
			s.note("lanes."+name, "%d slots truncated to %d", len(slots), game.SlotsPerLane)
			slots = slots[:game.SlotsPerLane]
		}
		for slot, raw := range slots {
			field := fmt.Sprintf("lanes.%s[%d]", name, slot)
			var record *TowerRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				s.note(field, "undecodable tower dropped")
				continue
			}
			if record == nil {
				continue
			}
			spec, ok := game.LookupTower(game.TowerType(record.Type))
			if !ok {
				s.note(field, "unknown tower type %q dropped", record.Type)
				continue
			}
			maxHP := float64(record.MaxHP)
			if math.IsNaN(maxHP) || maxHP <= 0 || maxHP > spec.MaxHP*4 {
				if record.MaxHP != 0 {
					s.note(field+".maxHp", "%v out of range, using %v", record.MaxHP, spec.MaxHP)
				}
				maxHP = spec.MaxHP
			}
			room.Towers[lane][slot] = &game.Tower{
				Type:     spec.Type,
				Owner:    strings.TrimSpace(record.Owner),
				MaxHP:    maxHP,
				HP:       s.floatIn(field+".hp", record.HP, 0, maxHP),
				Cooldown: s.floatIn(field+".cooldown", record.Cooldown, 0, spec.Reload),
			}
		}
	}
}

func hydratePlayers(s sanitizer, room *game.Room, raws []json.RawMessage, now time.Time) {
	for i, raw := range raws {
		field := fmt.Sprintf("players[%d]", i)
		var record PlayerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.note(field, "undecodable player dropped")
			continue
		}
		id := strings.TrimSpace(record.ID)
		if id == "" || len(id) > maxIDLength {
			s.note(field+".id", "invalid player id dropped")
			continue
		}
		if _, dup := room.Players[id]; dup {
			s.note(field+".id", "duplicate player %q dropped", id)
			continue
		}
		lane, ok := game.ParseLane(record.Lane)
		if !ok || !room.HasLane(lane) {
			s.note(field+".lane", "lane %q not active, player dropped", record.Lane)
			continue
		}
		if owner := room.LaneOwner(lane); owner != nil {
			s.note(field+".lane", "lane %s already held by %s, player dropped", lane, owner.ID)
			continue
		}
		player := game.NewPlayer(id, game.NormalizeName(record.Name, "Defender"), lane, now)
		player.JoinedAt = s.timestamp(field+".joinedAt", record.JoinedAt, now)
		player.Kills = s.intIn(field+".kills", record.Kills, 0, maxCounter, 0)
		player.Builds = s.intIn(field+".builds", record.Builds, 0, maxCounter, 0)
		player.MarkOffline(now)
		player.LastSeenAt = s.timestamp(field+".lastSeenAt", record.LastSeenAt, now)

		actions := record.RecentActions
		if len(actions) > game.RecentActionLimit {
			s.note(field+".recentActions", "%d entries trimmed to %d", len(actions), game.RecentActionLimit)
			actions = actions[len(actions)-game.RecentActionLimit:]
		}
		for j, action := range actions {
			kind := game.ActionKind(action.Kind)
			slot := float64(action.Slot)
			actionLane, laneOK := game.ParseLane(action.Lane)
			if action.ActionID == "" || len(action.ActionID) > maxIDLength || !laneOK ||
				(kind != game.ActionBuild && kind != game.ActionSell) ||
				slot != math.Trunc(slot) || !game.ValidSlot(int(slot)) {
				s.note(fmt.Sprintf("%s.recentActions[%d]", field, j), "malformed entry dropped")
				continue
			}
			player.Recent.Add(game.ActionRecord{
				ActionID: action.ActionID,
				Lane:     actionLane,
				Slot:     int(slot),
				Kind:     kind,
			})
		}
		room.Players[id] = player
	}
}

func hydrateEnemies(s sanitizer, room *game.Room, raws []json.RawMessage, nextID Number) {
	const maxSafeID = 1 << 53
	var highest uint64
	used := make(map[uint64]bool, len(raws))
	var unnumbered []*game.Enemy
	for i, raw := range raws {
		field := fmt.Sprintf("enemies[%d]", i)
		var record EnemyRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			s.note(field, "undecodable enemy dropped")
			continue
		}
		lane, ok := game.ParseLane(record.Lane)
		if !ok || !room.HasLane(lane) {
			s.note(field+".lane", "lane %q not active, enemy dropped", record.Lane)
			continue
		}
		archetype, ok := game.Archetype(game.EnemyKind(record.Kind))
		if !ok {
			s.note(field+".kind", "unknown kind %q dropped", record.Kind)
			continue
		}
		if record.HP <= 0 || math.IsNaN(float64(record.HP)) {
			s.note(field+".hp", "dead enemy dropped")
			continue
		}
		template := game.NewEnemy(0, lane, archetype.Kind, room.Wave)
		maxHP := float64(record.MaxHP)
		if math.IsNaN(maxHP) || maxHP <= 0 || maxHP > maxEnemyHP {
			s.note(field+".maxHp", "%v out of range, using %v", record.MaxHP, template.MaxHP)
			maxHP = template.MaxHP
		}
		enemy := &game.Enemy{
			Lane:             lane,
			Kind:             archetype.Kind,
			Progress:         s.floatIn(field+".progress", record.Progress, 0, maxProgress),
			MaxHP:            maxHP,
			HP:               s.floatIn(field+".hp", record.HP, 0, maxHP),
			Speed:            s.floatIn(field+".speed", record.Speed, 0.001, maxEnemySpeed),
			Reward:           s.intIn(field+".reward", record.Reward, 0, maxEnemyReward, template.Reward),
			CoreDamage:       s.intIn(field+".coreDamage", record.CoreDamage, 0, room.CoreHPMax, template.CoreDamage),
			SlowMultiplier:   s.floatIn(field+".slowMultiplier", orOne(record.SlowMultiplier), minSlowFactor, 1),
			SlowTimer:        s.floatIn(field+".slowTimer", record.SlowTimer, 0, maxEffectTimer),
			WeakenMultiplier: s.floatIn(field+".weakenMultiplier", orOne(record.WeakenMultiplier), 1, maxWeakenFactor),
			WeakenTimer:      s.floatIn(field+".weakenTimer", record.WeakenTimer, 0, maxEffectTimer),
		}
		id := float64(record.ID)
		if id < 1 || id != math.Trunc(id) || id > maxSafeID || used[uint64(id)] {
			s.note(field+".id", "invalid or duplicate id %v reassigned", record.ID)
			unnumbered = append(unnumbered, enemy)
		} else {
			enemy.ID = uint64(id)
			used[enemy.ID] = true
			highest = max(highest, enemy.ID)
		}
		room.Enemies = append(room.Enemies, enemy)
	}

	next := uint64(0)
	if nextID > 0 && nextID <= maxSafeID {
		next = uint64(nextID)
	}
	if next < highest {
		s.note("nextEnemyId", "behind highest enemy id %d", highest)
		next = highest
	}
	for _, enemy := range unnumbered {
		next++
		enemy.ID = next
	}
	room.NextEnemyID = next
}

// orOne maps an absent multiplier to the neutral value.
func orOne(v Number) Number {
	if v == 0 {
		return 1
	}
	return v
}
