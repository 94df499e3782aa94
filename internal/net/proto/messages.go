package proto

import (
	"encoding/json"
	"sort"

	"towerdefense/server/internal/game"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Client message type identifiers.
const (
	TypeHello      = "hello"
	TypeListRooms  = "listRooms"
	TypeCreateRoom = "createRoom"
	TypeJoinRoom   = "joinRoom"
	TypeLeaveRoom  = "leaveRoom"
	TypeAction     = "action"
	TypePing       = "ping"
)

// Server message type identifiers.
const (
	TypeWelcome     = "welcome"
	TypeRooms       = "rooms"
	TypeRoomCreated = "roomCreated"
	TypeJoined      = "joined"
	TypeState       = "state"
	TypeAck         = "ack"
	TypeNotice      = "notice"
	TypeError       = "error"
	TypePong        = "pong"
)

// ClientMessage is one of the inbound variants below.
type ClientMessage interface {
	ClientType() string
}

// Hello registers an identity. An empty PlayerID asks the server to issue one.
type Hello struct {
	Type     string `json:"type" jsonschema:"required"`
	PlayerID string `json:"playerId,omitempty" jsonschema:"maxLength=64"`
	Name     string `json:"name,omitempty" jsonschema:"maxLength=64"`
}

type ListRooms struct {
	Type string `json:"type" jsonschema:"required"`
}

// CreateRoom opens a room. MaxPlayers outside 2..4 is refused by the registry.
type CreateRoom struct {
	Type       string `json:"type" jsonschema:"required"`
	Name       string `json:"name,omitempty" jsonschema:"maxLength=64"`
	MaxPlayers int    `json:"maxPlayers" jsonschema:"required"`
}

type JoinRoom struct {
	Type   string `json:"type" jsonschema:"required"`
	RoomID string `json:"roomId" jsonschema:"required,minLength=1,maxLength=16"`
}

type LeaveRoom struct {
	Type string `json:"type" jsonschema:"required"`
}

// Action submits a build or sell. Lane, slot and kind ranges are checked by
// the action processor so that rejections come back as acks.
type Action struct {
	Type      string `json:"type" jsonschema:"required"`
	ActionID  string `json:"actionId" jsonschema:"maxLength=64"`
	Lane      string `json:"lane" jsonschema:"required"`
	Slot      int    `json:"slot" jsonschema:"required"`
	Kind      string `json:"kind" jsonschema:"required"`
	TowerType string `json:"towerType,omitempty"`
}

type Ping struct {
	Type   string  `json:"type" jsonschema:"required"`
	SentAt float64 `json:"sentAt,omitempty"`
}

func (Hello) ClientType() string      { return TypeHello }
func (ListRooms) ClientType() string  { return TypeListRooms }
func (CreateRoom) ClientType() string { return TypeCreateRoom }
func (JoinRoom) ClientType() string   { return TypeJoinRoom }
func (LeaveRoom) ClientType() string  { return TypeLeaveRoom }
func (Action) ClientType() string     { return TypeAction }
func (Ping) ClientType() string       { return TypePing }

// GameAction converts the wire action into the domain form.
func (a Action) GameAction() game.Action {
	return game.Action{
		ActionID:  a.ActionID,
		Lane:      game.Lane(a.Lane),
		Slot:      a.Slot,
		Kind:      game.ActionKind(a.Kind),
		TowerType: game.TowerType(a.TowerType),
	}
}

// Header opens every server frame.
type Header struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}

func (h *Header) setHeader(v Header) { *h = v }

// ServerMessage is one of the outbound variants below.
type ServerMessage interface {
	ServerType() string
	setHeader(Header)
}

// Encode stamps the header and renders msg as JSON.
func Encode(msg ServerMessage) ([]byte, error) {
	msg.setHeader(Header{Ver: Version, Type: msg.ServerType()})
	return json.Marshal(msg)
}

// Welcome acknowledges a hello and carries the tower catalog.
type Welcome struct {
	Header
	PlayerID string      `json:"playerId"`
	Name     string      `json:"name"`
	Towers   []TowerInfo `json:"towers"`
}

type RoomList struct {
	Header
	Rooms []RoomSummary `json:"rooms"`
}

type RoomCreated struct {
	Header
	Room RoomSummary `json:"room"`
}

// Joined confirms a join and the lane assigned to the player.
type Joined struct {
	Header
	RoomID      string   `json:"roomId"`
	PlayerID    string   `json:"playerId"`
	Lane        string   `json:"lane"`
	ActiveLanes []string `json:"activeLanes"`
	Reconnected bool     `json:"reconnected,omitempty"`
}

type State struct {
	Header
	Room       RoomState `json:"room"`
	ServerTime int64     `json:"serverTime"`
}

// Ack answers an action. Duplicate marks a replayed actionId.
type Ack struct {
	Header
	ActionID  string `json:"actionId"`
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate"`
	Reason    string `json:"reason,omitempty"`
	GoldDelta int    `json:"goldDelta,omitempty"`
}

type Notice struct {
	Header
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

type Error struct {
	Header
	Message string `json:"message"`
}

type Pong struct {
	Header
	ClientTime float64 `json:"clientTime"`
	ServerTime int64   `json:"serverTime"`
}

func (*Welcome) ServerType() string     { return TypeWelcome }
func (*RoomList) ServerType() string    { return TypeRooms }
func (*RoomCreated) ServerType() string { return TypeRoomCreated }
func (*Joined) ServerType() string      { return TypeJoined }
func (*State) ServerType() string       { return TypeState }
func (*Ack) ServerType() string         { return TypeAck }
func (*Notice) ServerType() string      { return TypeNotice }
func (*Error) ServerType() string       { return TypeError }
func (*Pong) ServerType() string        { return TypePong }

// TowerInfo is the client-facing catalog entry.
type TowerInfo struct {
	Type   string  `json:"type"`
	Cost   int     `json:"cost"`
	Damage float64 `json:"damage"`
	Range  float64 `json:"range"`
	Reload float64 `json:"reload"`
	Refund int     `json:"refund"`
}

// Catalog lists every tower in cost order.
func Catalog() []TowerInfo {
	types := game.TowerTypes()
	out := make([]TowerInfo, 0, len(types))
	for _, towerType := range types {
		spec, _ := game.LookupTower(towerType)
		out = append(out, TowerInfo{
			Type:   string(spec.Type),
			Cost:   spec.Cost,
			Damage: spec.Damage,
			Range:  spec.Range,
			Reload: spec.Reload,
			Refund: spec.RefundAmount(),
		})
	}
	return out
}

// RoomSummary is a lobby entry.
type RoomSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	MaxPlayers int      `json:"maxPlayers"`
	Online     int      `json:"online"`
	Players    int      `json:"players"`
	Lanes      []string `json:"lanes"`
	Wave       int      `json:"wave"`
	Phase      string   `json:"phase"`
}

func NewRoomSummary(s game.Summary) RoomSummary {
	return RoomSummary{
		ID:         s.ID,
		Name:       s.Name,
		MaxPlayers: s.MaxPlayers,
		Online:     s.Online,
		Players:    s.Players,
		Lanes:      laneNames(s.Lanes),
		Wave:       s.Wave,
		Phase:      string(s.Phase),
	}
}

func laneNames(lanes []game.Lane) []string {
	out := make([]string, len(lanes))
	for i, lane := range lanes {
		out[i] = string(lane)
	}
	return out
}

// RoomState is the full room snapshot broadcast to members.
type RoomState struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	MaxPlayers  int                     `json:"maxPlayers"`
	ActiveLanes []string                `json:"activeLanes"`
	CoreHP      int                     `json:"coreHp"`
	CoreHPMax   int                     `json:"coreHpMax"`
	TeamGold    int                     `json:"teamGold"`
	Wave        int                     `json:"wave"`
	WaveState   string                  `json:"waveState"`
	WaveTimer   float64                 `json:"waveTimer"`
	Remaining   int                     `json:"remainingSpawns"`
	Phase       string                  `json:"phase"`
	Lanes       map[string][]*TowerView `json:"lanes"`
	Players     []PlayerView            `json:"players"`
	Enemies     []EnemyView             `json:"enemies"`
}

type TowerView struct {
	Type     string  `json:"type"`
	Owner    string  `json:"owner"`
	HP       float64 `json:"hp"`
	MaxHP    float64 `json:"maxHp"`
	Cooldown float64 `json:"cooldown"`
}

type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Lane   string `json:"lane"`
	Online bool   `json:"online"`
	Kills  int    `json:"kills"`
	Builds int    `json:"builds"`
}

type EnemyView struct {
	ID       uint64  `json:"id"`
	Lane     string  `json:"lane"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	HP       float64 `json:"hp"`
	MaxHP    float64 `json:"maxHp"`
	Slowed   bool    `json:"slowed,omitempty"`
	Weakened bool    `json:"weakened,omitempty"`
}

// NewRoomState projects room for broadcast. The result shares no memory with
// the room.
func NewRoomState(room *game.Room) RoomState {
	state := RoomState{
		ID:          room.ID,
		Name:        room.Name,
		MaxPlayers:  room.MaxPlayers,
		ActiveLanes: laneNames(room.ActiveLanes),
		CoreHP:      room.CoreHP,
		CoreHPMax:   room.CoreHPMax,
		TeamGold:    room.TeamGold,
		Wave:        room.Wave,
		WaveState:   string(room.WaveState),
		WaveTimer:   room.WaveTimer,
		Remaining:   room.RemainingCredits(),
		Phase:       string(room.Phase),
		Lanes:       make(map[string][]*TowerView, len(room.ActiveLanes)),
		Players:     make([]PlayerView, 0, len(room.Players)),
		Enemies:     make([]EnemyView, 0, len(room.Enemies)),
	}
	for _, lane := range room.ActiveLanes {
		slots := make([]*TowerView, game.SlotsPerLane)
		for slot := range slots {
			if tower := room.TowerAt(lane, slot); tower != nil {
				slots[slot] = &TowerView{
					Type:     string(tower.Type),
					Owner:    tower.Owner,
					HP:       tower.HP,
					MaxHP:    tower.MaxHP,
					Cooldown: tower.Cooldown,
				}
			}
		}
		state.Lanes[string(lane)] = slots
	}
	for _, player := range room.SortedPlayers() {
		state.Players = append(state.Players, PlayerView{
			ID:     player.ID,
			Name:   player.Name,
			Lane:   string(player.Lane),
			Online: player.Online,
			Kills:  player.Kills,
			Builds: player.Builds,
		})
	}
	for _, enemy := range room.Enemies {
		state.Enemies = append(state.Enemies, EnemyView{
			ID:       enemy.ID,
			Lane:     string(enemy.Lane),
			Kind:     string(enemy.Kind),
			Progress: enemy.Progress,
			HP:       enemy.HP,
			MaxHP:    enemy.MaxHP,
			Slowed:   enemy.SlowTimer > 0,
			Weakened: enemy.WeakenTimer > 0,
		})
	}
	sort.Slice(state.Enemies, func(i, j int) bool { return state.Enemies[i].ID < state.Enemies[j].ID })
	return state
}
